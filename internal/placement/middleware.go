package placement

import (
	"log/slog"
	"net/http"

	"github.com/fencecraft/crmbridge/internal/bitrix"
	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

// Require loads the placement session and attaches it, together with the
// portal credentials for the Bitrix client, to the request context.
func Require(store *Store, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := store.Load(r.Context(), r)
			if err != nil {
				if err != ErrNoSession {
					logger.Error("failed to load placement session", slog.Any("error", err))
					httpx.RespondError(w, err)
					return
				}
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			ctx := ContextWithSession(r.Context(), sess)
			ctx = bitrix.ContextWithAuth(ctx, bitrix.Auth{Domain: sess.Placement.Domain, AccessToken: sess.AuthID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// VerifyCSRF rejects mutating requests whose token does not match the session.
func VerifyCSRF(csrf *CSRFManager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if err := csrf.Verify(FromContext(r.Context()), r.Header.Get(CSRFHeader)); err != nil {
				logger.Warn("csrf validation failed", slog.String("path", r.URL.Path), slog.Any("error", err))
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
