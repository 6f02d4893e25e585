package placement

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fencecraft/crmbridge/internal/bitrix"
	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

// portalServer answers user.current for one valid token and records every path.
type portalServer struct {
	mu    sync.Mutex
	paths []string
	token string
}

func (p *portalServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	raw, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(raw, &body)
	p.mu.Lock()
	p.paths = append(p.paths, r.URL.Path)
	p.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if body["auth"] != p.token {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid_token","error_description":"The access token provided is invalid"}`)
		return
	}
	_, _ = io.WriteString(w, `{"result":{"ID":"5","NAME":"Anna"}}`)
}

func (p *portalServer) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paths...)
}

func newPortal(t *testing.T, token string) (*portalServer, *httptest.Server) {
	t.Helper()
	portal := &portalServer{token: token}
	srv := httptest.NewServer(portal)
	t.Cleanup(srv.Close)
	return portal, srv
}

func TestPortalVerifierAcceptsConfirmedToken(t *testing.T) {
	portal, srv := newPortal(t, "access-1")
	crm := bitrix.NewClient("", bitrix.WithAllowedPortals(srv.URL))
	v := NewPortalVerifier(crm, bitrix.ParseOrigins(srv.URL), "m-1")

	p := Placement{Domain: srv.URL + "/", AuthID: "access-1", MemberID: "m-1"}
	require.NoError(t, v.Verify(context.Background(), &p))
	assert.Equal(t, srv.URL, p.Domain)
	assert.Equal(t, []string{"/rest/user.current.json"}, portal.seen())
}

func TestPortalVerifierRejects(t *testing.T) {
	portal, srv := newPortal(t, "access-1")
	foreign, foreignSrv := newPortal(t, "anything")
	crm := bitrix.NewClient("", bitrix.WithAllowedPortals(srv.URL))
	v := NewPortalVerifier(crm, bitrix.ParseOrigins(srv.URL), "m-1")

	tests := []struct {
		name string
		p    Placement
		want error
	}{
		{name: "foreign domain", p: Placement{Domain: foreignSrv.URL, AuthID: "anything", MemberID: "m-1"}, want: httpx.ErrForbidden},
		{name: "malformed domain", p: Placement{Domain: "https://x/y?z", AuthID: "access-1", MemberID: "m-1"}, want: httpx.ErrForbidden},
		{name: "other account", p: Placement{Domain: srv.URL, AuthID: "access-1", MemberID: "m-2"}, want: httpx.ErrForbidden},
		{name: "forged token", p: Placement{Domain: srv.URL, AuthID: "forged", MemberID: "m-1"}, want: httpx.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(context.Background(), &tt.p)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, foreign.seen())
	assert.Equal(t, []string{"/rest/user.current.json"}, portal.seen())
}

func TestLaunchFromForeignPortalGetsNoSession(t *testing.T) {
	_, srv := newPortal(t, "access-1")
	foreign, foreignSrv := newPortal(t, "anything")
	crm := bitrix.NewClient("", bitrix.WithAllowedPortals(srv.URL))
	mr, _, router := setupRouterWith(t, NewPortalVerifier(crm, bitrix.ParseOrigins(srv.URL), ""))

	form := launchForm(`{"ID":"42"}`)
	form.Set("DOMAIN", foreignSrv.URL)
	form.Set("AUTH_ID", "anything")
	rr := launch(t, router, form)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, rr.Result().Cookies())
	assert.Empty(t, mr.Keys())
	assert.Empty(t, foreign.seen())
}

func TestLaunchWithForgedTokenIsUnauthorized(t *testing.T) {
	_, srv := newPortal(t, "access-1")
	crm := bitrix.NewClient("", bitrix.WithAllowedPortals(srv.URL))
	_, _, router := setupRouterWith(t, NewPortalVerifier(crm, bitrix.ParseOrigins(srv.URL), ""))

	form := launchForm(`{}`)
	form.Set("DOMAIN", srv.URL)
	form.Set("AUTH_ID", "forged")
	rr := launch(t, router, form)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, rr.Result().Cookies())
}

func TestLaunchFromAllowedPortal(t *testing.T) {
	_, srv := newPortal(t, "access-1")
	crm := bitrix.NewClient("", bitrix.WithAllowedPortals(srv.URL))
	_, _, router := setupRouterWith(t, NewPortalVerifier(crm, bitrix.ParseOrigins(srv.URL), "m-1"))

	form := launchForm(`{"ID":"42"}`)
	form.Set("DOMAIN", srv.URL)
	rr := launch(t, router, form)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Len(t, rr.Result().Cookies(), 1)

	get := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	get.AddCookie(rr.Result().Cookies()[0])
	getRR := httptest.NewRecorder()
	router.ServeHTTP(getRR, get)
	assert.Equal(t, srv.URL+"|access-1", getRR.Body.String())
}

func TestLaunchWithoutVerifierIsUnavailable(t *testing.T) {
	_, _, router := setupRouterWith(t, nil)
	rr := launch(t, router, launchForm(`{}`))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
