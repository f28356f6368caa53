package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/odyssey-erp/clinic-ledger/internal/audit/http"
	"github.com/odyssey-erp/clinic-ledger/internal/auth"
	"github.com/odyssey-erp/clinic-ledger/internal/catalog"
	"github.com/odyssey-erp/clinic-ledger/internal/inventory"
	"github.com/odyssey-erp/clinic-ledger/internal/invoicing"
	"github.com/odyssey-erp/clinic-ledger/internal/observability"
	"github.com/odyssey-erp/clinic-ledger/internal/procurement"
	"github.com/odyssey-erp/clinic-ledger/internal/returns"
	"github.com/odyssey-erp/clinic-ledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	AuthHandler        *auth.Handler
	CatalogHandler     *catalog.Handler
	InventoryHandler   *inventory.Handler
	ProcurementHandler *procurement.Handler
	ReturnsHandler     *returns.Handler
	InvoicingHandler   *invoicing.Handler
	AuditHandler       *audithttp.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if !InTestMode() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Group(func(r chi.Router) {
		r.Use(params.AuthHandler.Middleware)

		if params.CatalogHandler != nil {
			r.Route("/catalog", params.CatalogHandler.MountRoutes)
		}
		if params.InventoryHandler != nil {
			r.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.ProcurementHandler != nil {
			r.Route("/procurement", func(r chi.Router) {
				params.ProcurementHandler.MountRoutes(r)
				if params.ReturnsHandler != nil {
					params.ReturnsHandler.MountPurchaseOrderRoutes(r)
				}
			})
		}
		if params.ReturnsHandler != nil {
			r.Route("/returns", params.ReturnsHandler.MountRoutes)
		}
		if params.InvoicingHandler != nil {
			r.Route("/invoices", params.InvoicingHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
