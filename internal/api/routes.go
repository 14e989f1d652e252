package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health.HandleHealth)
	r.Get("/health/live", h.health.HandleLiveness)
	r.Get("/health/ready", h.health.HandleReadiness)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.GetStats)
		r.Get("/quota", h.GetQuota)

		r.Route("/ratelimit", func(r chi.Router) {
			r.Get("/", h.GetRateLimit)
			r.Post("/reset", h.ResetRateLimit)
		})

		r.Get("/retry/presets", h.GetRetryPresets)
		r.Get("/results", h.GetResults)

		r.Route("/dispatch", func(r chi.Router) {
			r.Post("/", h.DispatchBatch)
			r.Post("/one", h.DispatchOne)
		})
	})

	return r
}
