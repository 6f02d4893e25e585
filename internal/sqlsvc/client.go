// Package sqlsvc talks to the companion SQL microservice that holds credit
// balances, product-group tags and price overrides.
package sqlsvc

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

// CreditBalance is the credit standing of a customer.
type CreditBalance struct {
	NIP          string  `json:"nip"`
	Name         string  `json:"name"`
	CreditLimit  float64 `json:"creditLimit"`
	Balance      float64 `json:"balance"`
	Overdue      float64 `json:"overdue"`
	Currency     string  `json:"currency"`
	Blocked      bool    `json:"blocked"`
	PaymentTerms int     `json:"paymentTerms"`
}

// Available is the unused part of the credit limit, never negative.
func (b CreditBalance) Available() float64 {
	if v := b.CreditLimit - b.Balance; v > 0 {
		return v
	}
	return 0
}

// GroupTag tags a product group.
type GroupTag struct {
	GroupCode string `json:"groupCode"`
	Tag       string `json:"tag"`
}

// PriceOverride replaces one named price of an item.
type PriceOverride struct {
	ItemCode  string  `json:"itemCode"`
	PriceName string  `json:"priceName"`
	Value     float64 `json:"value"`
	Currency  string  `json:"currency"`
	Type      string  `json:"type"`
}

// Client calls the service with a static bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	observer   Observer
}

// NewClient constructs a client.
func NewClient(baseURL, token string, observer Observer) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		observer:   observer,
	}
}

// CreditBalance returns the balance of the customer with the given tax id.
func (c *Client) CreditBalance(ctx context.Context, nip string) (*CreditBalance, error) {
	var balance CreditBalance
	if err := c.do(ctx, http.MethodGet, "/credit-customers/"+url.PathEscape(nip), nil, nil, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// GroupTags lists tags for the given product groups; no codes means all.
func (c *Client) GroupTags(ctx context.Context, groupCodes []string) ([]GroupTag, error) {
	query := url.Values{}
	for _, code := range groupCodes {
		query.Add("groupCode", code)
	}
	var tags []GroupTag
	if err := c.do(ctx, http.MethodGet, "/product-groups/tags", query, nil, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// SetGroupTags replaces the tags of a product group.
func (c *Client) SetGroupTags(ctx context.Context, groupCode string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	return c.do(ctx, http.MethodPut, "/product-groups/"+url.PathEscape(groupCode)+"/tags", nil, map[string][]string{"tags": tags}, nil)
}

// PriceOverrides returns overrides for the given items.
func (c *Client) PriceOverrides(ctx context.Context, itemCodes []string) ([]PriceOverride, error) {
	if len(itemCodes) == 0 {
		return nil, nil
	}
	query := url.Values{}
	for _, code := range itemCodes {
		query.Add("itemCode", code)
	}
	var overrides []PriceOverride
	if err := c.do(ctx, http.MethodGet, "/price-overrides", query, nil, &overrides); err != nil {
		return nil, err
	}
	return overrides, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) (err error) {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("sqlsvc: client not configured: %w", httpx.ErrUnavailable)
	}
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveCall("sqlsvc", method+" "+path, err, time.Since(start))
		}
	}()

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sqlsvc: encode body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("sqlsvc: build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sqlsvc: %s %s: %w: %v", method, path, httpx.ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("sqlsvc: read body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("sqlsvc: %s: %w", path, httpx.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("sqlsvc: %s: %w", path, httpx.ErrUnauthorized)
	case resp.StatusCode >= 400:
		return fmt.Errorf("sqlsvc: %s: status %d: %s: %w", path, resp.StatusCode, strings.TrimSpace(string(raw)), httpx.ErrUpstream)
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("sqlsvc: %s: decode: %w", path, err)
		}
	}
	return nil
}
