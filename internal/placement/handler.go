package placement

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

// Handler serves the portal entry point.
type Handler struct {
	store    *Store
	verifier Verifier
	logger   *slog.Logger
}

// NewHandler constructs the entry point handler. Launches that verifier
// rejects get no session.
func NewHandler(store *Store, verifier Verifier, logger *slog.Logger) *Handler {
	return &Handler{store: store, verifier: verifier, logger: logger}
}

type launchResponse struct {
	Placement string         `json:"placement"`
	Domain    string         `json:"domain"`
	Options   map[string]any `json:"options"`
	DealID    int64          `json:"dealId,omitempty"`
	QuoteID   int64          `json:"quoteId,omitempty"`
	CSRFToken string         `json:"csrfToken"`
}

// MountRoutes registers the launch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/app", h.launch)
	r.With(Require(h.store, h.logger)).Get("/app/session", h.current)
}

func (h *Handler) launch(w http.ResponseWriter, r *http.Request) {
	p := FromRequest(r, h.logger)
	if err := httpx.Validate(p); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.verifier == nil {
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	if err := h.verifier.Verify(r.Context(), &p); err != nil {
		h.logger.Warn("placement launch rejected",
			slog.String("domain", p.Domain),
			slog.String("member_id", p.MemberID),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	sess, err := h.store.Create(r.Context(), w, p)
	if err != nil {
		h.logger.Error("create placement session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("placement opened",
		slog.String("domain", p.Domain),
		slog.String("placement", p.Code),
		slog.String("member_id", p.MemberID))
	httpx.JSON(w, http.StatusOK, toResponse(sess))
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, toResponse(FromContext(r.Context())))
}

func toResponse(sess *Session) launchResponse {
	return launchResponse{
		Placement: sess.Placement.Code,
		Domain:    sess.Placement.Domain,
		Options:   sess.Placement.Options,
		DealID:    sess.Placement.DealID(),
		QuoteID:   sess.Placement.QuoteID(),
		CSRFToken: sess.CSRFToken,
	}
}
