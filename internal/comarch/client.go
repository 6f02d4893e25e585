// Package comarch is a client for the Comarch ERP REST API: items, stocks,
// warehouses, customers and sales/warehouse documents.
package comarch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

// Observer receives per-call telemetry.
type Observer interface {
	ObserveCall(system, operation string, err error, elapsed time.Duration)
}

// APIError is an error response from the ERP.
type APIError struct {
	Resource string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("comarch: %s: status %d: %s", e.Resource, e.Status, e.Message)
}

// Is maps 404 onto httpx.ErrNotFound, 401 onto httpx.ErrUnauthorized and
// every status onto httpx.ErrUpstream.
func (e *APIError) Is(target error) bool {
	switch target {
	case httpx.ErrNotFound:
		return e.Status == http.StatusNotFound
	case httpx.ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case httpx.ErrUpstream:
		return true
	}
	return false
}

// Client calls ERP resources with bearer tokens from a TokenSource.
type Client struct {
	baseURL    string
	tokens     *TokenSource
	httpClient *http.Client
	observer   Observer
}

// NewClient constructs a client.
func NewClient(baseURL string, tokens *TokenSource, observer Observer) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		observer:   observer,
	}
}

func (c *Client) do(ctx context.Context, method, resource string, query url.Values, body any, out any) (err error) {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("comarch: client not configured: %w", httpx.ErrUnavailable)
	}
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveCall("comarch", method+" "+resource, err, time.Since(start))
		}
	}()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	endpoint := c.baseURL + "/api/" + resource
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("comarch: %s: encode body: %w", resource, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("comarch: %s: build request: %w", resource, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("comarch: %s: %w: %v", resource, httpx.ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("comarch: %s: read body: %w", resource, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate(ctx)
	}
	if resp.StatusCode >= 400 {
		return &APIError{Resource: resource, Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("comarch: %s: decode: %w", resource, err)
		}
	}
	return nil
}

func errorMessage(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
