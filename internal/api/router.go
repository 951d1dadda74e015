package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/agentoven/agentoven/context-plane/internal/api/handlers"
	"github.com/agentoven/agentoven/context-plane/internal/api/middleware"
	"github.com/agentoven/agentoven/context-plane/internal/config"
	"github.com/agentoven/agentoven/context-plane/internal/metrics"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const serviceName = "contextd"

// NewRouter creates the HTTP router with all API routes. m may be nil, in
// which case /metrics responds 404.
func NewRouter(cfg *config.Config, h *handlers.Handlers, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler(h))
	r.Get("/version", versionHandler(cfg))
	r.Handle("/metrics", m.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))

		// Contexts
		r.Route("/contexts", func(r chi.Router) {
			r.Get("/", h.ListContexts)
			r.Post("/", h.CreateContext)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetContext)
				r.Put("/", h.UpdateContext)
				r.Delete("/", h.DeleteContext)
			})
		})

		// Agents
		r.Route("/llm/agents", func(r chi.Router) {
			r.Post("/", h.CreateAgent)
			r.Route("/{contextId}", func(r chi.Router) {
				r.Post("/messages", h.AddMessage)
				r.Get("/conversation", h.GetConversation)
				r.Get("/tools", h.GetToolExecutions)
				r.Post("/tools/{tool}", h.ExecuteTool)
			})
		})

		// Events
		r.Get("/events", h.StreamEvents)
		r.Get("/ws", h.EventSocket)
	})

	return r
}

func healthHandler(h *handlers.Handlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := h.Store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"status":  "unhealthy",
				"service": serviceName,
				"error":   err.Error(),
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "healthy",
			"service": serviceName,
		})
	}
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": serviceName,
		})
	}
}
