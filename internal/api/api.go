// Package api exposes the dispatch and tracking HTTP surface.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/mailrouter/internal/analytics"
	"github.com/ignite/mailrouter/internal/dispatch"
	"github.com/ignite/mailrouter/internal/license"
	"github.com/ignite/mailrouter/internal/store"
)

// Handlers bundles the collaborators the HTTP layer needs.
type Handlers struct {
	store     *store.Store
	engine    *dispatch.Engine
	analytics *analytics.Engine
	license   license.Checker
}

// NewHandlers wires the HTTP layer.
func NewHandlers(st *store.Store, engine *dispatch.Engine, an *analytics.Engine, lic license.Checker) *Handlers {
	return &Handlers{store: st, engine: engine, analytics: an, license: lic}
}

// SetupRoutes configures the router. The tracking endpoints are public
// and unauthenticated; hash verification happens in the analytics
// engine.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	// Public tracking endpoints.
	r.Get("/track/open/{emailID}/{hash}", h.HandleOpen)
	r.Get("/track/click/{emailID}/{linkHash}/{hash}", h.HandleClick)

	r.Route("/api", func(r chi.Router) {
		r.Post("/send", h.HandleSend)
		r.Post("/messages", h.HandleSendMessage)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Post("/reset-counters", h.ResetCounters)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/decrypted", h.GetAccountDecrypted)
			r.Put("/{id}", h.UpdateAccount)
			r.Delete("/{id}", h.DeleteAccount)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Get("/{id}", h.GetRule)
			r.Put("/{id}", h.UpdateRule)
			r.Delete("/{id}", h.DeleteRule)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Put("/", h.SaveTemplate)
			r.Get("/{name}", h.GetTemplate)
		})
	})

	return r
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
