package sqlsvc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer static" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCreditBalance(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/credit-customers/5250000000", r.URL.Path)
		_, _ = io.WriteString(w, `{"nip":"5250000000","name":"Ogrodex","creditLimit":10000,"balance":12500,"currency":"PLN"}`)
	})
	client := NewClient(srv.URL+"/", "static", nil)

	balance, err := client.CreditBalance(context.Background(), "5250000000")
	require.NoError(t, err)
	assert.Equal(t, "Ogrodex", balance.Name)
	assert.Equal(t, 0.0, balance.Available())
}

func TestCreditBalanceNotFound(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	client := NewClient(srv.URL, "static", nil)

	_, err := client.CreditBalance(context.Background(), "1")
	assert.True(t, errors.Is(err, httpx.ErrNotFound))
}

func TestWrongTokenIsUnauthorized(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {})
	client := NewClient(srv.URL, "other", nil)

	_, err := client.GroupTags(context.Background(), nil)
	assert.True(t, errors.Is(err, httpx.ErrUnauthorized))
}

func TestPriceOverridesQuery(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"A", "B"}, r.URL.Query()["itemCode"])
		_, _ = io.WriteString(w, `[{"itemCode":"A","priceName":"detaliczna","value":99.5,"currency":"PLN","type":"BRUTTO"}]`)
	})
	var observed []string
	client := NewClient(srv.URL, "static", observerFunc(func(system, op string, err error, _ time.Duration) {
		observed = append(observed, system+" "+op)
	}))

	overrides, err := client.PriceOverrides(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, 99.5, overrides[0].Value)
	assert.Equal(t, []string{"sqlsvc GET /price-overrides"}, observed)

	none, err := client.PriceOverrides(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSetGroupTags(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/product-groups/OGR/tags", r.URL.Path)
		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{}, body["tags"])
		w.WriteHeader(http.StatusNoContent)
	})
	client := NewClient(srv.URL, "static", nil)

	require.NoError(t, client.SetGroupTags(context.Background(), "OGR", nil))
}

func TestUpstreamFailure(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "db down")
	})
	client := NewClient(srv.URL, "static", nil)

	_, err := client.GroupTags(context.Background(), []string{"OGR"})
	assert.True(t, errors.Is(err, httpx.ErrUpstream))
	assert.Contains(t, err.Error(), "db down")

	var unconfigured *Client
	_, err = unconfigured.GroupTags(context.Background(), nil)
	assert.True(t, errors.Is(err, httpx.ErrUnavailable))
}

type observerFunc func(system, operation string, err error, elapsed time.Duration)

func (f observerFunc) ObserveCall(system, operation string, err error, elapsed time.Duration) {
	f(system, operation, err, elapsed)
}
