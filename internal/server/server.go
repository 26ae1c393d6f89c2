// Package server exposes the warden's HTTP API: declarative options, route
// integration facts, reconciliation status and the imperative action surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Server is the warden API server.
type Server struct {
	addr       string
	handlers   *Handlers
	httpServer *http.Server
}

// NewServer creates the API server.
func NewServer(host string, port int, handlers *Handlers) *Server {
	return &Server{
		addr:     fmt.Sprintf("%s:%d", host, port),
		handlers: handlers,
	}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handlers.Health)
		r.Get("/status", s.handlers.GetStatus)

		r.Get("/config", s.handlers.GetConfig)
		r.Put("/config", s.handlers.PutConfig)

		r.Put("/route", s.handlers.PutRoute)
		r.Delete("/route", s.handlers.DeleteRoute)
		r.Get("/route/traefik", s.handlers.GetTraefikConfig)

		r.Post("/actions/{name}", s.handlers.PostAction)
		r.Get("/actions/list-authkeys", s.handlers.ListAuthKeys)
	})

	return r
}

// Run starts the API server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.router(),
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}
