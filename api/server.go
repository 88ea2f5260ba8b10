/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/automations/*   Automation management
  /api/runs/*          Run trigger and history
  /api/accounts        Account creation
  /api/investments/*   Positions and prices
  /api/users/{id}/*    Per-user ledger views

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Automation routes
		r.Route("/automations", func(r chi.Router) {
			r.Get("/", h.ListAutomations)
			r.Post("/", h.CreateAutomation)
			r.Get("/{id}", h.GetAutomation)
			r.Post("/{id}/activate", h.ActivateAutomation)
			r.Post("/{id}/deactivate", h.DeactivateAutomation)
		})

		// Run routes
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", h.TriggerRun)
			r.Get("/", h.ListRuns)
		})

		// Account routes
		r.Post("/accounts", h.CreateAccount)

		// Investment routes
		r.Route("/investments", func(r chi.Router) {
			r.Post("/", h.CreateInvestment)
			r.Put("/{id}/price", h.UpdatePrice)
		})

		// Per-user views
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/accounts", h.ListUserAccounts)
			r.Get("/investments", h.ListUserInvestments)
			r.Get("/transactions", h.ListUserTransactions)
			r.Get("/snapshots", h.ListUserSnapshots)
			r.Post("/snapshots", h.TriggerSnapshot)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
