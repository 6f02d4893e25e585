package comarch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

type fakeERP struct {
	tokenCalls atomic.Int32
	expiresIn  int64
	token      string
	mux        *http.ServeMux
}

func newFakeERP(t *testing.T) (*fakeERP, *httptest.Server) {
	t.Helper()
	erp := &fakeERP{expiresIn: 3600, token: "tok-1", mux: http.NewServeMux()}
	erp.mux.HandleFunc("/api/Token", func(w http.ResponseWriter, r *http.Request) {
		erp.tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("grant_type") != "password" || r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, "invalid_grant")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": erp.token,
			"token_type":   "bearer",
			"expires_in":   erp.expiresIn,
		})
	})
	srv := httptest.NewServer(erp.mux)
	t.Cleanup(srv.Close)
	return erp, srv
}

func (f *fakeERP) handle(pattern string, fn http.HandlerFunc) {
	f.mux.HandleFunc(pattern, fn)
}

func newTestClient(srv *httptest.Server, cache TokenCache) *Client {
	tokens := NewTokenSource(TokenConfig{BaseURL: srv.URL, Username: "api", Password: "secret", Cache: cache})
	return NewClient(srv.URL, tokens, nil)
}

func TestItemsSendsBearerAndQuery(t *testing.T) {
	erp, srv := newFakeERP(t)
	erp.handle("/api/Items", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "przeslo", r.URL.Query().Get("search"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `[{"id":1,"code":"PR-100","name":"Przęsło horizon","unit":"szt","vatRate":23,
			"prices":[{"name":"zakupu","value":50,"currency":"PLN","type":"NETTO"},{"name":"detaliczna","value":100,"currency":"PLN","type":"NETTO"}]}]`)
	})
	client := newTestClient(srv, nil)

	items, err := client.Items(context.Background(), ItemsQuery{Search: "przeslo", Limit: 20})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "PR-100", items[0].Code)
	assert.Equal(t, 23.0, items[0].VATRate)
	require.Len(t, items[0].Prices, 2)
	assert.Equal(t, "zakupu", items[0].Prices[0].Name)

	_, err = client.Items(context.Background(), ItemsQuery{Search: "przeslo", Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, int32(1), erp.tokenCalls.Load())
}

func TestUnauthorizedInvalidatesToken(t *testing.T) {
	erp, srv := newFakeERP(t)
	var calls atomic.Int32
	erp.handle("/api/Warehouses", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"message":"token expired"}`)
			return
		}
		_, _ = io.WriteString(w, `[{"id":1,"symbol":"MAG","name":"Magazyn główny"}]`)
	})
	client := newTestClient(srv, nil)

	_, err := client.Warehouses(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, httpx.ErrUnauthorized))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "token expired", apiErr.Message)

	warehouses, err := client.Warehouses(context.Background())
	require.NoError(t, err)
	assert.Len(t, warehouses, 1)
	assert.Equal(t, int32(2), erp.tokenCalls.Load())
}

func TestCustomerByNIPNotFound(t *testing.T) {
	erp, srv := newFakeERP(t)
	erp.handle("/api/Customers", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5250000000", r.URL.Query().Get("nip"))
		_, _ = io.WriteString(w, `[]`)
	})
	client := newTestClient(srv, nil)

	_, err := client.CustomerByNIP(context.Background(), "5250000000")
	require.Error(t, err)
	assert.True(t, errors.Is(err, httpx.ErrNotFound))
	assert.True(t, errors.Is(err, httpx.ErrUpstream))
}

func TestCreateDocumentPostsJSON(t *testing.T) {
	erp, srv := newFakeERP(t)
	erp.handle("/api/Documents", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var doc Document
		require.NoError(t, json.NewDecoder(r.Body).Decode(&doc))
		assert.Equal(t, DocumentInvoice, doc.Type)
		require.Len(t, doc.Items, 1)
		assert.Equal(t, 2.0, doc.Items[0].Quantity)
		doc.ID = 77
		doc.Number = "FS/1/2026"
		_ = json.NewEncoder(w).Encode(doc)
	})
	client := newTestClient(srv, nil)

	created, err := client.CreateDocument(context.Background(), Document{
		Type:         DocumentInvoice,
		CustomerCode: "K-1",
		IssueDate:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Items:        []DocumentItem{{ItemCode: "PR-100", Quantity: 2, NetPrice: 100, VATRate: 23}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(77), created.ID)
	assert.Equal(t, "FS/1/2026", created.Number)
}

func TestUnconfiguredClientIsUnavailable(t *testing.T) {
	var client *Client
	_, err := client.Warehouses(context.Background())
	assert.True(t, errors.Is(err, httpx.ErrUnavailable))

	tokens := NewTokenSource(TokenConfig{BaseURL: "http://127.0.0.1:1"})
	_, err = tokens.Token(context.Background())
	assert.True(t, errors.Is(err, httpx.ErrUnavailable))
}

func TestTokenSharedThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	erp, srv := newFakeERP(t)
	erp.handle("/api/ItemsGroups", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":3,"code":"OGR","name":"Ogrodzenia"}]`)
	})
	cache := NewRedisTokenCache(rdb, "")

	first := newTestClient(srv, cache)
	_, err := first.ItemsGroups(context.Background())
	require.NoError(t, err)

	stored, err := mr.Get("comarch:token")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", stored)
	assert.True(t, mr.TTL("comarch:token") > 0)

	second := newTestClient(srv, cache)
	groups, err := second.ItemsGroups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "OGR", groups[0].Code)
	assert.Equal(t, int32(1), erp.tokenCalls.Load())
}

func TestTokenRefreshedAfterExpiry(t *testing.T) {
	erp, srv := newFakeERP(t)
	erp.expiresIn = 120
	tokens := NewTokenSource(TokenConfig{BaseURL: srv.URL, Username: "api", Password: "secret", Margin: time.Minute})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return now }

	token, err := tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	now = now.Add(30 * time.Second)
	_, err = tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), erp.tokenCalls.Load())

	erp.token = "tok-2"
	now = now.Add(time.Minute)
	token, err = tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)
	assert.Equal(t, int32(2), erp.tokenCalls.Load())
}

func TestTokenRejectedCredentials(t *testing.T) {
	_, srv := newFakeERP(t)
	tokens := NewTokenSource(TokenConfig{BaseURL: srv.URL, Username: "api", Password: "wrong"})

	_, err := tokens.Token(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Token", apiErr.Resource)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}
