/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request counters and latency
  5. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/allocation, /api/coverage  Calculators
  /api/contracts/*                Contracts, payments, advances, reports
  /api/payments/*                 Payment status
  /api/advances/*                 Consumption and cancellation
  /api/admin/*                    Sweep
  /api/scenarios/*                Demo scenarios
  /metrics                        Prometheus scrape endpoint
  /healthz                        Liveness

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/rent-advance/metrics"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/allocation", h.CalculateAllocation)
		r.Get("/coverage", h.CoverageWindow)

		// Contract routes
		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", h.ListContracts)
			r.Post("/", h.SaveContract)
			r.Get("/{id}", h.GetContract)
			r.Get("/{id}/payments", h.ListPayments)
			r.Post("/{id}/payments", h.RecordPayment)
			r.Get("/{id}/advances", h.ListAdvances)
			r.Post("/{id}/advances", h.CreateAdvance)
			r.Get("/{id}/missing", h.DetectMissing)
			r.Post("/{id}/sweep", h.SweepContract)
			r.Get("/{id}/next-payable", h.NextPayable)
			r.Get("/{id}/due/{month}", h.AmountDue)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/{id}/status", h.UpdatePaymentStatus)
		})

		// Advance routes
		r.Route("/advances", func(r chi.Router) {
			r.Get("/{id}", h.GetAdvance)
			r.Post("/{id}/consume", h.ConsumeAdvance)
			r.Post("/{id}/cancel", h.CancelAdvance)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.SweepAll)
			r.Get("/sweep", h.LastSweep)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
