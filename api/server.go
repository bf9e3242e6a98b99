/*
server.go - HTTP router and middleware configuration

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request log with the request ID
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus count and latency per route pattern
  5. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /health                 Liveness
  /metrics                Prometheus scrape
  /api/affiliates/*       Network, balances, commissions, withdrawals
  /api/purchases          Purchase events (commission fan-out)
  /api/admin/*            Commission approval, withdrawal settlement
  /api/scenarios/*        Demo networks

SECURITY NOTE:
  No authentication middleware. Identity and sessions live in front of this
  service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/affiliates", func(r chi.Router) {
			r.Get("/", h.ListAffiliates)
			r.Post("/", h.RegisterAffiliate)
			r.Get("/{id}", h.GetAffiliate)
			r.Put("/{id}/status", h.SetAffiliateStatus)
			r.Post("/{id}/activation", h.RecordActivation)
			r.Get("/{id}/network", h.GetNetwork)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/commissions", h.ListCommissions)
			r.Get("/{id}/commissions/summary", h.GetCommissionSummary)
			r.Get("/{id}/withdrawals", h.ListWithdrawals)
			r.Post("/{id}/withdrawals", h.RequestWithdrawal)
		})

		r.Post("/purchases", h.CreatePurchase)

		r.Route("/admin", func(r chi.Router) {
			r.Route("/commissions", func(r chi.Router) {
				r.Get("/pending", h.ListPendingCommissions)
				r.Post("/approve-batch", h.ApproveBatch)
				r.Post("/{id}/approve", h.ApproveCommission)
				r.Post("/{id}/reject", h.RejectCommission)
			})
			r.Post("/affiliates/{id}/approve-commissions", h.ApproveAffiliateCommissions)
			r.Route("/withdrawals", func(r chi.Router) {
				r.Get("/pending", h.ListPendingWithdrawals)
				r.Post("/{id}/approve", h.ApproveWithdrawal)
				r.Post("/{id}/reject", h.RejectWithdrawal)
				r.Post("/{id}/complete", h.CompleteWithdrawal)
			})
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
