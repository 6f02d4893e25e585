package bitrix

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

type recordedCall struct {
	Path string
	Body map[string]any
}

type fakePortal struct {
	mu      sync.Mutex
	calls   []recordedCall
	respond func(method string, body map[string]any) (int, string)
}

func (f *fakePortal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	body := map[string]any{}
	_ = json.Unmarshal(raw, &body)
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{Path: r.URL.Path, Body: body})
	f.mu.Unlock()
	method := strings.TrimSuffix(r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:], ".json")
	status, payload := f.respond(method, body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, payload)
}

func newFakePortal(t *testing.T, respond func(method string, body map[string]any) (int, string)) (*fakePortal, *httptest.Server) {
	t.Helper()
	portal := &fakePortal{respond: respond}
	srv := httptest.NewServer(portal)
	t.Cleanup(srv.Close)
	return portal, srv
}

type observerFunc func(system, operation string, err error, elapsed time.Duration)

func (f observerFunc) ObserveCall(system, operation string, err error, elapsed time.Duration) {
	f(system, operation, err, elapsed)
}

func TestCallThroughWebhook(t *testing.T) {
	portal, srv := newFakePortal(t, func(method string, body map[string]any) (int, string) {
		return http.StatusOK, `{"result":{"ID":"17","TITLE":"Brama","OPPORTUNITY":"1200.50"}}`
	})
	var observed []string
	client := NewClient(srv.URL+"/rest/1/secret/", WithObserver(observerFunc(func(system, op string, err error, _ time.Duration) {
		observed = append(observed, system+":"+op)
	})))

	deal, err := client.GetDeal(context.Background(), 17)
	require.NoError(t, err)
	assert.Equal(t, int64(17), deal.ID())
	assert.Equal(t, "Brama", deal.String("TITLE"))
	require.Len(t, portal.calls, 1)
	assert.Equal(t, "/rest/1/secret/crm.deal.get.json", portal.calls[0].Path)
	assert.Equal(t, float64(17), portal.calls[0].Body["id"])
	assert.Equal(t, []string{"bitrix:crm.deal.get"}, observed)
}

func TestCallWithPlacementAuth(t *testing.T) {
	portal, srv := newFakePortal(t, func(method string, body map[string]any) (int, string) {
		return http.StatusOK, `{"result":true}`
	})
	client := NewClient("", WithAllowedPortals(srv.URL))
	ctx := ContextWithAuth(context.Background(), Auth{Domain: srv.URL + "/", AccessToken: "token-1"})

	require.NoError(t, client.UpdateQuote(ctx, 5, map[string]any{"TITLE": "x"}))
	require.Len(t, portal.calls, 1)
	assert.Equal(t, "/rest/crm.quote.update.json", portal.calls[0].Path)
	assert.Equal(t, "token-1", portal.calls[0].Body["auth"])
}

func TestPlacementAuthForeignPortalRefused(t *testing.T) {
	portal, srv := newFakePortal(t, func(method string, body map[string]any) (int, string) {
		return http.StatusOK, `{"result":{"ID":"1"}}`
	})
	allowed := NewClient("https://hook.example/rest/1/x", WithAllowedPortals("fence.bitrix24.pl"))
	ctx := ContextWithAuth(context.Background(), Auth{Domain: srv.URL, AccessToken: "stolen"})

	_, err := allowed.GetQuote(ctx, 1)
	assert.ErrorIs(t, err, ErrForeignPortal)
	assert.ErrorIs(t, err, httpx.ErrForbidden)

	_, err = NewClient("").GetQuote(ctx, 1)
	assert.ErrorIs(t, err, ErrForeignPortal)
	assert.Empty(t, portal.calls)
}

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "fence.bitrix24.pl", want: "https://fence.bitrix24.pl", ok: true},
		{in: " HTTPS://Fence.Bitrix24.pl/ ", want: "https://fence.bitrix24.pl", ok: true},
		{in: "http://127.0.0.1:8081", want: "http://127.0.0.1:8081", ok: true},
		{in: ""},
		{in: "ftp://fence.bitrix24.pl"},
		{in: "https://fence.bitrix24.pl/rest"},
		{in: "https://user@fence.bitrix24.pl"},
		{in: "https://fence.bitrix24.pl?x=1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeOrigin(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, []string{"https://a.bitrix24.pl", "https://b.bitrix24.pl"},
		ParseOrigins("a.bitrix24.pl, https://b.bitrix24.pl,,https://a.bitrix24.pl, ftp://c"))
}

func TestCallWithoutEndpointIsUnavailable(t *testing.T) {
	client := NewClient("")
	_, err := client.GetQuote(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, httpx.ErrUnavailable)

	var nilClient *Client
	assert.ErrorIs(t, nilClient.Call(context.Background(), "user.current", nil, nil), ErrUnavailable)
}

func TestAPIErrorMapping(t *testing.T) {
	_, srv := newFakePortal(t, func(method string, body map[string]any) (int, string) {
		return http.StatusBadRequest, `{"error":"NOT_FOUND","error_description":"Not found"}`
	})
	client := NewClient(srv.URL)

	_, err := client.GetQuote(context.Background(), 99)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "crm.quote.get", apiErr.Method)
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, httpx.ErrUpstream)
}

func TestProductRowsDecodeMixedNumbers(t *testing.T) {
	_, srv := newFakePortal(t, func(method string, body map[string]any) (int, string) {
		return http.StatusOK, `{"result":[
			{"ID":"101","PRODUCT_ID":7,"PRODUCT_NAME":"Panel","PRICE":"123.00","QUANTITY":"2","TAX_RATE":"23","MEASURE_CODE":"796","MEASURE_NAME":"szt"},
			{"ID":102,"PRODUCT_ID":"0","PRODUCT_NAME":"Montaż","PRICE":50,"QUANTITY":1,"TAX_RATE":null}
		]}`
	})
	client := NewClient(srv.URL)

	rows, err := client.GetQuoteProductRows(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Int(101), rows[0].ID)
	assert.Equal(t, Number(123), rows[0].Price)
	require.NotNil(t, rows[0].TaxRate)
	assert.Equal(t, Number(23), *rows[0].TaxRate)
	assert.Equal(t, Int(796), rows[0].MeasureCode)
	assert.Nil(t, rows[1].TaxRate)
}

func TestListItemsFollowsPagination(t *testing.T) {
	portal, srv := newFakePortal(t, func(method string, body map[string]any) (int, string) {
		if body["start"] == float64(0) {
			return http.StatusOK, `{"result":{"items":[{"id":1},{"id":2}]},"next":2,"total":3}`
		}
		return http.StatusOK, `{"result":{"items":[{"id":3}]},"total":3}`
	})
	client := NewClient(srv.URL)

	items, err := client.ListItems(context.Background(), 7, map[string]any{"=parentId2": 5}, []string{"id"})
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Len(t, portal.calls, 2)
}

func TestUploadFileEncodesContent(t *testing.T) {
	portal, srv := newFakePortal(t, func(method string, body map[string]any) (int, string) {
		return http.StatusOK, `{"result":{"ID":"900","NAME":"photo.jpg","DOWNLOAD_URL":"https://x/d"}}`
	})
	client := NewClient(srv.URL)

	file, err := client.UploadFile(context.Background(), 12, "photo.jpg", []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, Int(900), file.ID)
	content, ok := portal.calls[0].Body["fileContent"].([]any)
	require.True(t, ok)
	assert.Equal(t, "YWJj", content[1])

	_, err = client.UploadFile(context.Background(), 0, "x", nil)
	assert.Error(t, err)
}

func TestCurrentUserKeepsCustomFields(t *testing.T) {
	_, srv := newFakePortal(t, func(method string, body map[string]any) (int, string) {
		return http.StatusOK, `{"result":{"ID":"3","NAME":"Anna","LAST_NAME":"Nowak","UF_USR_MAX_DISCOUNT":"15"}}`
	})
	client := NewClient(srv.URL)

	user, err := client.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Anna Nowak", user.FullName())
	assert.Equal(t, "15", Entity(user.Fields).String("UF_USR_MAX_DISCOUNT"))
}

func TestEntityCloneDropsIdentity(t *testing.T) {
	quote := Entity{"ID": "5", "TITLE": "Oferta", "DATE_CREATE": "2024-01-01", "UF_CRM_X": "1"}
	clone := quote.Clone()
	assert.NotContains(t, clone, "ID")
	assert.NotContains(t, clone, "DATE_CREATE")
	assert.Equal(t, "Oferta", clone["TITLE"])
	assert.Contains(t, quote, "ID")
}
