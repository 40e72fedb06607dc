// Package api exposes the orchestrator operations over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/omnichannel-engine/internal/orchestrator"
)

// Server is the HTTP API server.
type Server struct {
	handlers *Handlers
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates an API server over the orchestrator.
func NewServer(o *orchestrator.Orchestrator) *Server {
	handlers := NewHandlers(o)
	return &Server{
		handlers: handlers,
		router:   SetupRoutes(handlers),
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}
