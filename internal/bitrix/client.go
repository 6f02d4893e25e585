// Package bitrix is a client for the Bitrix24 REST API.
//
// Calls go either through an incoming webhook URL or, when the request context
// carries placement credentials, through the portal's OAuth endpoint with the
// caller's access token. No token is kept on the client itself.
package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

// ErrUnavailable is returned when neither a webhook nor placement credentials are configured.
var ErrUnavailable = fmt.Errorf("bitrix: client not configured: %w", httpx.ErrUnavailable)

// Observer receives per-call telemetry.
type Observer interface {
	ObserveCall(system, operation string, err error, elapsed time.Duration)
}

// Auth holds request-scoped OAuth credentials from the placement.
type Auth struct {
	Domain      string
	AccessToken string
}

type authContextKey struct{}

// ContextWithAuth attaches placement credentials to ctx.
func ContextWithAuth(ctx context.Context, auth Auth) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthFromContext returns the placement credentials in ctx, if any.
func AuthFromContext(ctx context.Context) (Auth, bool) {
	auth, ok := ctx.Value(authContextKey{}).(Auth)
	return auth, ok && auth.Domain != "" && auth.AccessToken != ""
}

// APIError is an error response from Bitrix24.
type APIError struct {
	Method      string
	Status      int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	msg := e.Code
	if e.Description != "" {
		if msg != "" {
			msg += ": "
		}
		msg += e.Description
	}
	return fmt.Sprintf("bitrix: %s: %s (status %d)", e.Method, msg, e.Status)
}

// Is maps Bitrix "not found" responses onto httpx.ErrNotFound and everything
// else onto httpx.ErrUpstream.
func (e *APIError) Is(target error) bool {
	switch target {
	case httpx.ErrNotFound:
		return e.Code == "NOT_FOUND" || strings.Contains(strings.ToLower(e.Description), "not found")
	case httpx.ErrUnauthorized:
		return e.Code == "expired_token" || e.Code == "invalid_token" || e.Code == "NO_AUTH_FOUND"
	case httpx.ErrUpstream:
		return true
	}
	return false
}

type envelope struct {
	Result           json.RawMessage `json:"result"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Next             *int            `json:"next"`
	Total            *int            `json:"total"`
}

// Client calls Bitrix24 REST methods.
type Client struct {
	webhookURL string
	httpClient *http.Client
	observer   Observer
	portals    []string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithObserver records call telemetry.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient constructs a client. webhookURL may be empty when every call runs
// with placement credentials.
func NewClient(webhookURL string, opts ...Option) *Client {
	c := &Client{
		webhookURL: strings.TrimRight(webhookURL, "/"),
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call invokes method with params and decodes the "result" member into result.
// result may be nil.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	if c == nil {
		return ErrUnavailable
	}
	_, err := c.call(ctx, method, params, result)
	return err
}

func (c *Client) call(ctx context.Context, method string, params any, result any) (env envelope, err error) {
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveCall("bitrix", method, err, time.Since(start))
		}
	}()

	endpoint, body, err := c.prepare(ctx, method, params)
	if err != nil {
		return env, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return env, fmt.Errorf("bitrix: %s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return env, fmt.Errorf("bitrix: %s: %w: %v", method, httpx.ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return env, fmt.Errorf("bitrix: %s: read body: %w", method, err)
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return env, &APIError{Method: method, Status: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
		}
		return env, fmt.Errorf("bitrix: %s: decode envelope: %w", method, err)
	}
	if env.Error != "" || resp.StatusCode >= 400 {
		return env, &APIError{Method: method, Status: resp.StatusCode, Code: env.Error, Description: env.ErrorDescription}
	}
	if result != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return env, fmt.Errorf("bitrix: %s: decode result: %w", method, err)
		}
	}
	return env, nil
}

func (c *Client) prepare(ctx context.Context, method string, params any) (string, []byte, error) {
	payload := map[string]any{}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return "", nil, fmt.Errorf("bitrix: %s: encode params: %w", method, err)
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return "", nil, fmt.Errorf("bitrix: %s: params must encode to an object: %w", method, err)
		}
	}

	var endpoint string
	if auth, ok := AuthFromContext(ctx); ok {
		origin, allowed := c.PortalAllowed(auth.Domain)
		if !allowed {
			return "", nil, fmt.Errorf("bitrix: %s: %q: %w", method, auth.Domain, ErrForeignPortal)
		}
		endpoint = fmt.Sprintf("%s/rest/%s.json", origin, method)
		payload["auth"] = auth.AccessToken
	} else if c.webhookURL != "" {
		endpoint = fmt.Sprintf("%s/%s.json", c.webhookURL, method)
	} else {
		return "", nil, ErrUnavailable
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("bitrix: %s: encode body: %w", method, err)
	}
	return endpoint, body, nil
}

// IsNotFound reports whether err is a Bitrix "not found" response.
func IsNotFound(err error) bool {
	return errors.Is(err, httpx.ErrNotFound)
}
