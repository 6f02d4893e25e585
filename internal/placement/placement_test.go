package placement

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fencecraft/crmbridge/internal/bitrix"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type acceptAll struct{}

func (acceptAll) Verify(context.Context, *Placement) error { return nil }

func setupRouter(t *testing.T) (*miniredis.Miniredis, *Store, http.Handler) {
	return setupRouterWith(t, acceptAll{})
}

func setupRouterWith(t *testing.T, verifier Verifier) (*miniredis.Miniredis, *Store, http.Handler) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := discardLogger()
	csrf := NewCSRFManager("csrf-secret")
	store := NewStore(client, csrf, "", time.Hour, true)

	r := chi.NewRouter()
	NewHandler(store, verifier, logger).MountRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(Require(store, logger), VerifyCSRF(csrf, logger))
		r.Get("/api/ping", func(w http.ResponseWriter, r *http.Request) {
			auth, ok := bitrix.AuthFromContext(r.Context())
			require.True(t, ok)
			_, _ = io.WriteString(w, auth.Domain+"|"+auth.AccessToken)
		})
		r.Post("/api/ping", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})
	return mr, store, r
}

func launchForm(options string) url.Values {
	return url.Values{
		"DOMAIN":            {"fence.bitrix24.pl"},
		"AUTH_ID":           {"access-1"},
		"REFRESH_ID":        {"refresh-1"},
		"AUTH_EXPIRES":      {"3600"},
		"member_id":         {"m-1"},
		"PLACEMENT":         {QuoteDetailTab},
		"PLACEMENT_OPTIONS": {options},
	}
}

func launch(t *testing.T, router http.Handler, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/app", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestLaunchCreatesSession(t *testing.T) {
	mr, store, router := setupRouter(t)

	rr := launch(t, router, launchForm(`{"ID":"42"}`))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body launchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, QuoteDetailTab, body.Placement)
	assert.Equal(t, int64(42), body.QuoteID)
	assert.Zero(t, body.DealID)
	assert.NotEmpty(t, body.CSRFToken)
	assert.NotContains(t, rr.Body.String(), "access-1")

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, store.CookieName(), cookies[0].Name)
	assert.Equal(t, http.SameSiteNoneMode, cookies[0].SameSite)
	assert.True(t, cookies[0].Secure)
	assert.True(t, mr.Exists(redisKey(cookies[0].Value)))

	get := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	get.AddCookie(cookies[0])
	getRR := httptest.NewRecorder()
	router.ServeHTTP(getRR, get)
	assert.Equal(t, "fence.bitrix24.pl|access-1", getRR.Body.String())

	post := httptest.NewRequest(http.MethodPost, "/api/ping", nil)
	post.AddCookie(cookies[0])
	postRR := httptest.NewRecorder()
	router.ServeHTTP(postRR, post)
	assert.Equal(t, http.StatusForbidden, postRR.Code)

	post = httptest.NewRequest(http.MethodPost, "/api/ping", nil)
	post.AddCookie(cookies[0])
	post.Header.Set(CSRFHeader, body.CSRFToken)
	postRR = httptest.NewRecorder()
	router.ServeHTTP(postRR, post)
	assert.Equal(t, http.StatusNoContent, postRR.Code)
}

func TestLaunchRequiresCredentials(t *testing.T) {
	_, _, router := setupRouter(t)
	form := launchForm(`{}`)
	form.Del("AUTH_ID")

	rr := launch(t, router, form)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "Placement.AuthID")
}

func TestAPIWithoutSessionIsUnauthorized(t *testing.T) {
	_, _, router := setupRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.AddCookie(&http.Cookie{Name: "crmbridge_session", Value: "expired"})
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMalformedOptionsAreEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/app", strings.NewReader(launchForm(`{broken`).Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	p := FromRequest(req, discardLogger())
	assert.Empty(t, p.Options)
	assert.Zero(t, p.QuoteID())
	assert.Equal(t, 3600, p.AuthExpires)
}

func TestPlacementEntity(t *testing.T) {
	deal := Placement{Code: DealDetailTab, Options: map[string]any{"ID": float64(7)}}
	assert.Equal(t, int64(7), deal.DealID())
	assert.Zero(t, deal.QuoteID())

	view := Placement{Code: DefaultView, Options: map[string]any{"ID": "7"}}
	assert.Zero(t, view.DealID())
}

func TestCSRFVerify(t *testing.T) {
	m := NewCSRFManager("secret")
	sess := &Session{ID: "s1", CSRFToken: m.Issue("s1")}

	assert.NoError(t, m.Verify(sess, sess.CSRFToken))
	assert.ErrorIs(t, m.Verify(sess, "nope"), ErrCSRFTokenMismatch)
	assert.ErrorIs(t, m.Verify(sess, ""), ErrCSRFTokenMissing)
	assert.ErrorIs(t, m.Verify(nil, "x"), ErrCSRFTokenMissing)
}
