package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/apotek-erp/apotek-erp/internal/catalog"
	"github.com/apotek-erp/apotek-erp/internal/importer"
	"github.com/apotek-erp/apotek-erp/internal/ledger"
	"github.com/apotek-erp/apotek-erp/internal/observability"
	"github.com/apotek-erp/apotek-erp/internal/procurement"
	"github.com/apotek-erp/apotek-erp/internal/reconcile"
	"github.com/apotek-erp/apotek-erp/internal/sales"
	"github.com/apotek-erp/apotek-erp/internal/search"
	"github.com/apotek-erp/apotek-erp/internal/stocktake"
	"github.com/apotek-erp/apotek-erp/internal/tenant"
	"github.com/apotek-erp/apotek-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger   *slog.Logger
	Config   *Config
	Registry *tenant.Registry
	Metrics  *observability.Metrics

	LedgerHandler      *ledger.Handler
	CatalogHandler     *catalog.Handler
	SearchHandler      *search.Handler
	ReconcileHandler   *reconcile.Handler
	ProcurementHandler *procurement.Handler
	SalesHandler       *sales.Handler
	StockTakeHandler   *stocktake.Handler
	ImporterHandler    *importer.Handler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router. Health and metrics live outside
// the tenant scope; everything else requires a resolvable tenant.
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
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	requireAPIKey := params.Config != nil && params.Config.RequireAPIKey
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(tenant.Middleware(params.Registry, params.Logger, requireAPIKey))

		params.LedgerHandler.MountRoutes(r)
		params.CatalogHandler.MountRoutes(r)
		params.SearchHandler.MountRoutes(r)
		params.ReconcileHandler.MountRoutes(r)
		params.ProcurementHandler.MountRoutes(r)
		params.SalesHandler.MountRoutes(r)
		params.StockTakeHandler.MountRoutes(r)
		params.ImporterHandler.MountRoutes(r)
	})

	return r
}
