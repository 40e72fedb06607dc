package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the router and all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/journeys", func(r chi.Router) {
			r.Post("/", h.CreateJourney)
			r.Get("/", h.ListJourneys)
			r.Get("/{customerID}", h.GetJourney)
			r.Post("/{journeyID}/pause", h.PauseJourney)
			r.Post("/{journeyID}/resume", h.ResumeJourney)
			r.Post("/{journeyID}/cancel", h.CancelJourney)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Put("/{name}", h.RegisterTemplate)
		})

		r.Route("/attribution", func(r chi.Router) {
			r.Post("/", h.RecordAttribution)
			r.Get("/{customerID}", h.GetAttribution)
		})

		r.Post("/personalization", h.GeneratePersonalization)
		r.Get("/channels", h.ListChannels)
		r.Post("/channels/{channelID}/engagement", h.RecordEngagement)
		r.Get("/metrics", h.Metrics)
	})

	return r
}
