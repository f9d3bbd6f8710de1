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
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the mobile/web clients

ROUTE GROUPS:
  /api/issues/*        Issue lifecycle, upvotes, audit trail
  /api/accounts/*      Accounts, balances, point history
  /api/achievements/*  Achievement definitions
  /api/leaderboard     Points ranking
  /api/admin/*         Manual adjustments
  /healthz             Liveness probe
  /metrics             Prometheus scrape endpoint

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
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Issue routes
		r.Route("/issues", func(r chi.Router) {
			r.Get("/", h.ListIssues)
			r.Post("/", h.CreateIssue)
			r.Get("/{id}", h.GetIssue)
			r.Post("/{id}/status", h.UpdateStatus)
			r.Post("/{id}/upvote", h.UpvoteIssue)
			r.Get("/{id}/transitions", h.GetTransitions)
		})

		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Get("/{id}/achievements", h.GetAccountAchievements)
			r.Post("/{id}/evaluate", h.EvaluateAccount)
		})

		// Achievement routes
		r.Route("/achievements", func(r chi.Router) {
			r.Get("/", h.ListAchievements)
			r.Post("/", h.CreateAchievement)
		})

		r.Get("/leaderboard", h.Leaderboard)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/adjustments", h.CreateAdjustment)
		})
	})

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
