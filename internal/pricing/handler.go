package pricing

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

// Handler exposes the discount engine for the widget forms.
type Handler struct{}

// NewHandler constructs the handler.
func NewHandler() *Handler {
	return &Handler{}
}

// MountRoutes registers pricing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/max-discount", h.maxDiscount)
	r.Post("/discount-price", h.discountPrice)
	r.Post("/convert", h.convert)
}

type maxDiscountRequest struct {
	Item            Item    `json:"item"`
	PriceName       string  `json:"priceName" validate:"required"`
	UserMaxDiscount float64 `json:"userMaxDiscount"`
}

type maxDiscountResponse struct {
	MaxDiscount float64 `json:"maxDiscount"`
	MarginCap   float64 `json:"marginCap"`
}

func (h *Handler) maxDiscount(w http.ResponseWriter, r *http.Request) {
	var req maxDiscountRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, maxDiscountResponse{
		MaxDiscount: CalculateMaxDiscount(req.Item, req.PriceName, req.UserMaxDiscount),
		MarginCap:   MarginCap(req.Item.Prices.Value(BuyPriceName), req.Item.Prices.Value(req.PriceName)),
	})
}

type discountPriceRequest struct {
	Price    float64 `json:"price" validate:"gte=0"`
	Discount float64 `json:"discount" validate:"gte=0,lte=100"`
}

type discountPriceResponse struct {
	Price float64 `json:"price"`
}

func (h *Handler) discountPrice(w http.ResponseWriter, r *http.Request) {
	var req discountPriceRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, discountPriceResponse{Price: CalculateDiscountPrice(req.Price, req.Discount)})
}

type convertRequest struct {
	Prices  Prices  `json:"prices" validate:"required"`
	VATRate float64 `json:"vatRate" validate:"gte=0"`
	To      string  `json:"to" validate:"required"`
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ConvertPrices(req.Prices, req.VATRate, ParsePriceType(req.To)))
}
