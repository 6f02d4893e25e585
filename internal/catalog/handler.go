package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fencecraft/crmbridge/internal/platform/httpx"
	"github.com/fencecraft/crmbridge/internal/pricing"
)

// Handler exposes the product picker.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.search)
	r.Get("/dictionaries", h.dictionaries)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	q := Query{
		Text:      values.Get("q"),
		GroupCode: values.Get("type"),
		PriceType: pricing.ParsePriceType(values.Get("priceType")),
		PriceName: values.Get("priceName"),
		Warehouse: values.Get("warehouse"),
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, httpx.NewValidationError(map[string]string{"limit": "numeric"}))
			return
		}
		q.Limit = limit
	}
	products, err := h.service.Search(r.Context(), q)
	if err != nil {
		h.logger.Error("catalog search", slog.String("query", q.Text), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *Handler) dictionaries(w http.ResponseWriter, r *http.Request) {
	dict, err := h.service.Dictionaries(r.Context())
	if err != nil {
		h.logger.Error("catalog dictionaries", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dict)
}
