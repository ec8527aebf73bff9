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
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/handles/*       Handle lifecycle and balances
  /api/transfers/*     Two-party transfers
  /api/transactions/*  Transfer lookup
  /api/refunds         Refund protocol
  /api/shops/*         Shops, purchases, orders
  /api/messages/*      Board message resolution
  /api/scenarios/*     Demo scenarios

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

	r.Route("/api", func(r chi.Router) {
		// Handle routes
		r.Route("/handles", func(r chi.Router) {
			r.Post("/", h.CreateHandle)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/entries", h.GetEntries)
			r.Post("/{id}/retire", h.RetireHandle)
		})

		// Transfer routes
		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", h.CreateTransfer)
			r.Post("/grant", h.Grant)
		})
		r.Get("/transactions/{id}", h.GetTransaction)
		r.Post("/refunds", h.Refund)

		// Shop routes
		r.Route("/shops", func(r chi.Router) {
			r.Get("/", h.ListShops)
			r.Post("/", h.CreateShop)
			r.Get("/{id}", h.GetShop)
			r.Get("/{id}/report", h.GetReport)
			r.Post("/{id}/purchases", h.Purchase)
			r.Get("/{id}/orders", h.ListOrders)
			r.Post("/{id}/orders/lock", h.LockOrder)
			r.Post("/{id}/orders/deliver", h.DeliverOrder)
			r.Post("/{id}/slots", h.SetSlot)
			r.Post("/{id}/reset", h.ResetShop)
		})

		// Message resolution
		r.Get("/messages/{id}/order", h.ResolveMessage)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
