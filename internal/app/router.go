package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/distrochain/distrochain/internal/inbound"
	"github.com/distrochain/distrochain/internal/inventory"
	"github.com/distrochain/distrochain/internal/invoicing"
	"github.com/distrochain/distrochain/internal/ledger"
	"github.com/distrochain/distrochain/internal/observability"
	"github.com/distrochain/distrochain/internal/orders"
	"github.com/distrochain/distrochain/internal/stockaudit"
	"github.com/distrochain/distrochain/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	OrdersHandler     *orders.Handler
	InvoicingHandler  *invoicing.Handler
	LedgerHandler     *ledger.Handler
	InventoryHandler  *inventory.Handler
	InboundHandler    *inbound.Handler
	StockAuditHandler *stockaudit.Handler
	JobHandler        *jobs.Handler
}

// NewRouter constructs the chi.Router with distrochain defaults.
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

	r.Route("/api", func(api chi.Router) {
		api.Use(CallerMiddleware)

		api.Route("/orders", func(r chi.Router) {
			if params.OrdersHandler != nil {
				params.OrdersHandler.MountRoutes(r)
			}
			if params.InvoicingHandler != nil {
				params.InvoicingHandler.MountOrderRoutes(r)
			}
		})
		if params.InvoicingHandler != nil {
			api.Route("/invoices", params.InvoicingHandler.MountRoutes)
		}
		api.Route("/retailers/{retailerID}", func(r chi.Router) {
			if params.LedgerHandler != nil {
				params.LedgerHandler.MountRetailerRoutes(r)
			}
			if params.StockAuditHandler != nil {
				params.StockAuditHandler.MountRetailerRoutes(r)
			}
		})
		if params.InventoryHandler != nil {
			api.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.InboundHandler != nil {
			params.InboundHandler.MountRoutes(api)
		}
		if params.StockAuditHandler != nil {
			api.Route("/stock-audits", params.StockAuditHandler.MountRoutes)
		}
	})

	return r
}
