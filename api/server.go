/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zerolog request logging (carries the request id)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for a local frontend

ROUTE GROUPS:
  /api/customers/*    Customer catalog
  /api/products/*     Product catalog, stock, receipts
  /api/sales          Sale posting
  /api/invoices/*     Invoice read model
  /api/accounts       Chart of accounts
  /api/ledger/*       Trial balance
  /api/journal/*      Journal entries
  /api/periods/*      Accounting periods
  /api/audit/*        Audit trail and verification
  /api/integrity      Last scheduled integrity result
  /api/inventory/*    Stock reconciliation
  /api/scenarios/*    Demo data
  /metrics            Prometheus scrape endpoint
  /healthz            Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public; bind to
  localhost outside development.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/booksd/serve.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured. A nil
// gatherer serves the default prometheus registry.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *chi.Mux {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Post("/", h.SaveCustomer)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.SaveProduct)
			r.Get("/{id}/stock", h.GetStock)
			r.Get("/{id}/movements", h.GetMovements)
			r.Post("/{id}/receipts", h.ReceiveStock)
		})

		r.Post("/sales", h.ProcessSale)

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Get("/{id}", h.GetInvoice)
		})

		r.Get("/accounts", h.ListAccounts)
		r.Route("/ledger", func(r chi.Router) {
			r.Get("/trial-balance", h.TrialBalance)
		})
		r.Get("/journal/{id}", h.GetJournalEntry)

		r.Route("/periods", func(r chi.Router) {
			r.Get("/", h.ListPeriods)
			r.Post("/", h.CreatePeriod)
			r.Post("/{id}/status", h.SetPeriodStatus)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", h.ListAuditRecords)
			r.Get("/verify", h.VerifyChain)
		})
		r.Get("/integrity", h.GetIntegrity)
		r.Get("/inventory/reconcile", h.ReconcileStock)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/demo", h.LoadDemo)
		})
	})

	return r
}
