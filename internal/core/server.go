// Package core provides the ops HTTP chassis shared by the scheduler and
// retry-daemon binaries: a chi router carrying the health and liveness
// endpoints behind panic recovery, request-id propagation and structured
// request logging.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"rallypoint/internal/config"
)

// shutdownGrace bounds how long in-flight ops requests may finish during a
// graceful stop.
const shutdownGrace = 5 * time.Second

// Server is the ops endpoint surface for one daemon process.
type Server struct {
	Config *config.Config
	Logger *slog.Logger
	Probes []HealthProbe

	router *chi.Mux
}

// NewServer builds the ops server and mounts its routes. Probes are checked
// by GET /health; an empty probe set reports healthy.
func NewServer(cfg *config.Config, logger *slog.Logger, probes ...HealthProbe) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config: cfg,
		Logger: logger,
		Probes: probes,
		router: chi.NewRouter(),
	}

	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(logger))

	s.router.Get("/health", s.HandleHealth)
	s.router.Get("/livez", s.HandleLivez)

	return s, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for tests and extra route mounting.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves the ops endpoints until ctx is cancelled, then shuts down
// gracefully. A closed listener after cancellation is a clean stop.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.Config.Server.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.Logger.Info("ops server listening", "addr", srv.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ops server shutdown: %w", err)
		}
		s.Logger.Info("ops server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops server: %w", err)
	}
}
