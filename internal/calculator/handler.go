package calculator

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

// Handler exposes the calculator over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers calculator routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/prices", h.prices)
	r.Post("/quote", h.quote)
	r.Post("/deals/{dealID}/estimate", h.estimate)
}

func (h *Handler) prices(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.service.Table())
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Quote(in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

type estimateResponse struct {
	Result
	Scheduled bool `json:"scheduled"`
}

func (h *Handler) estimate(w http.ResponseWriter, r *http.Request) {
	dealID, err := httpx.IDParam(r, "dealID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, scheduled, err := h.service.Estimate(r.Context(), dealID, in)
	if err != nil {
		h.logger.Error("calculator estimate", slog.Int64("deal_id", dealID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, estimateResponse{Result: res, Scheduled: scheduled})
}
