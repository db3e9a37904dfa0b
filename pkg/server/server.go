// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Package server exposes agent runs over HTTP. Runs stream the agent
// envelope as server-sent events; rendering stays with the client.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/praxislang/praxis/pkg/config"
	"github.com/praxislang/praxis/pkg/llms"
)

type Server struct {
	cfg    *config.Config
	llm    llms.Driver
	server *http.Server
}

type Option func(*Server)

// WithDriver overrides the LLM driver built from config. Tests use it to
// script completions.
func WithDriver(driver llms.Driver) Option {
	return func(s *Server) {
		s.llm = driver
	}
}

func New(cfg *config.Config, opts ...Option) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Server{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the route tree. Exposed separately so tests can drive it
// with httptest without binding a port.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware)

	r.Get("/health", s.handleHealth)
	r.Route("/v1/agents", func(r chi.Router) {
		r.Post("/run", s.handleRun)
		r.Post("/validate", s.handleValidate)
	})
	return r
}

func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.Address(),
		Handler:     s.Router(),
		ReadTimeout: 30 * time.Second,
		// no WriteTimeout: SSE runs are long-lived
		IdleTimeout: 120 * time.Second,
	}

	slog.Info("HTTP server starting", "address", s.Address())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	slog.Info("HTTP server shutting down")
	return s.server.Shutdown(shutdownCtx)
}

// loggingMiddleware logs requests without wrapping the ResponseWriter;
// wrapping breaks http.Flusher for SSE.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}
