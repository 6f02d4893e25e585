package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fencecraft/crmbridge/internal/calculator"
	"github.com/fencecraft/crmbridge/internal/catalog"
	"github.com/fencecraft/crmbridge/internal/observability"
	"github.com/fencecraft/crmbridge/internal/orders"
	"github.com/fencecraft/crmbridge/internal/placement"
	"github.com/fencecraft/crmbridge/internal/pricing"
	"github.com/fencecraft/crmbridge/jobs"
	"github.com/fencecraft/crmbridge/report"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	Sessions *placement.Store
	CSRF     *placement.CSRFManager

	PlacementHandler  *placement.Handler
	PricingHandler    *pricing.Handler
	CalculatorHandler *calculator.Handler
	CatalogHandler    *catalog.Handler
	OrdersHandler     *orders.Handler
	ReportHandler     *report.Handler
	JobHandler        *jobs.Handler
}

// NewRouter constructs the chi.Router with crmbridge defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.PlacementHandler != nil {
		params.PlacementHandler.MountRoutes(r)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(placement.Require(params.Sessions, params.Logger))
		r.Use(placement.VerifyCSRF(params.CSRF, params.Logger))
		if params.PricingHandler != nil {
			r.Route("/pricing", params.PricingHandler.MountRoutes)
		}
		if params.CalculatorHandler != nil {
			r.Route("/calculator", params.CalculatorHandler.MountRoutes)
		}
		if params.CatalogHandler != nil {
			r.Route("/catalog", params.CatalogHandler.MountRoutes)
		}
		if params.OrdersHandler != nil {
			r.Route("/orders", params.OrdersHandler.MountRoutes)
		}
		if params.ReportHandler != nil {
			r.Route("/reports", params.ReportHandler.MountRoutes)
		}
	})

	return r
}
