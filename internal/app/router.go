package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/compat"
	"github.com/odyssey-erp/stockledger/internal/masterdata/warehouses"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	InventoryHandler  *inventory.Handler
	ViewHandler       *compat.Handler
	WarehouseHandler  *warehouses.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
	ReadinessCheckers []ReadinessChecker
}

// NewRouter constructs the chi.Router with ledger defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", readinessHandler(params.Logger, params.ReadinessCheckers))

	r.Group(func(r chi.Router) {
		for _, mw := range apiMiddlewares() {
			r.Use(mw)
		}
		if params.InventoryHandler != nil {
			r.Route("/inventory", func(r chi.Router) {
				if params.ViewHandler != nil {
					r.Route("/views", params.ViewHandler.MountRoutes)
				}
				params.InventoryHandler.MountRoutes(r)
			})
		}
		if params.WarehouseHandler != nil {
			r.Route("/masterdata/warehouses", params.WarehouseHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
