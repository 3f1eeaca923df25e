// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keypredist.
//
// go-keypredist is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-keypredist/pkg/correlation"
	"github.com/jeremyhahn/go-keypredist/pkg/keyserver"
	"github.com/jeremyhahn/go-keypredist/pkg/logging"
	"github.com/jeremyhahn/go-keypredist/pkg/metrics"
	"github.com/jeremyhahn/go-keypredist/pkg/ratelimit"
)

// Config holds the REST server configuration.
type Config struct {
	// Address is the listen address (default ":8080").
	Address string

	// Service is required.
	Service *keyserver.Service

	// Version is reported by GET /health.
	Version string

	// TLSConfig enables HTTPS when set.
	TLSConfig *tls.Config

	// RateLimiter throttles /api/v1 per client. Nil disables limiting.
	RateLimiter *ratelimit.Limiter

	// MetricsPath mounts the Prometheus handler. Empty disables it.
	MetricsPath string

	// Logger defaults to the service logger.
	Logger *logging.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server is the REST API server.
type Server struct {
	server    *http.Server
	handlers  *HandlerContext
	service   *keyserver.Service
	limiter   *ratelimit.Limiter
	tlsConfig *tls.Config
	logger    *logging.Logger
	metrics   string
}

// NewServer creates a server. It does not start listening.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Service == nil {
		return nil, fmt.Errorf("key server service is required")
	}

	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = cfg.Service.Logger()
	}

	s := &Server{
		handlers:  NewHandlerContext(cfg.Service, log, cfg.Version),
		service:   cfg.Service,
		limiter:   cfg.RateLimiter,
		tlsConfig: cfg.TLSConfig,
		logger:    log.With("component", "rest"),
		metrics:   cfg.MetricsPath,
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.setupRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		TLSConfig:    cfg.TLSConfig,
	}
	return s, nil
}

func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.RecoveryMiddleware())
	r.Use(correlation.Middleware)
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)
	r.Use(CORSMiddleware)

	r.Get("/health", s.handlers.HealthHandler)
	r.Head("/health", s.handlers.HealthHandler)
	r.Get("/health/live", s.handlers.LivenessHandler)
	r.Get("/health/ready", s.handlers.ReadinessHandler)
	r.Get("/health/startup", s.handlers.StartupHandler)

	if s.metrics != "" {
		r.Handle(s.metrics, metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(ratelimit.Middleware(s.limiter))
		}

		r.Route("/pool", func(r chi.Router) {
			r.Post("/", s.handlers.InitPoolHandler)
			r.Get("/", s.handlers.GetPoolHandler)
			r.Get("/keys", s.handlers.ListKeysHandler)
			r.Get("/users", s.handlers.ListPoolUsersHandler)
			r.Post("/users", s.handlers.RegisterPoolUserHandler)
			r.Get("/users/{id}", s.handlers.GetPoolUserHandler)
			r.Get("/common", s.handlers.CommonKeysHandler)
			r.Get("/derive", s.handlers.DeriveHandler)
			r.Get("/overlap", s.handlers.OverlapHandler)
			r.Get("/assignment", s.handlers.AssignmentHandler)
		})

		r.Route("/matrix", func(r chi.Router) {
			r.Post("/", s.handlers.InitMatrixHandler)
			r.Get("/", s.handlers.GetMatrixHandler)
			r.Get("/users", s.handlers.ListMatrixUsersHandler)
			r.Post("/users", s.handlers.RegisterMatrixUserHandler)
			r.Get("/users/{id}", s.handlers.GetMatrixUserHandler)
			r.Get("/shared", s.handlers.SharedValueHandler)
			r.Get("/key", s.handlers.MatrixKeyHandler)
		})

		r.Post("/encrypt", s.handlers.EncryptHandler)
		r.Post("/decrypt", s.handlers.DecryptHandler)
		r.Post("/state/save", s.handlers.SaveStateHandler)
		r.Post("/state/load", s.handlers.LoadStateHandler)
	})

	return r
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on the configured address and blocks until the server is
// stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln and blocks until the server is stopped.
func (s *Server) Serve(ln net.Listener) error {
	s.service.Health().MarkStarted()

	var err error
	if s.tlsConfig != nil {
		s.logger.Info("starting HTTPS server", "address", ln.Addr().String())
		err = s.server.ServeTLS(ln, "", "")
	} else {
		s.logger.Info("starting HTTP server", "address", ln.Addr().String())
		err = s.server.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully drains connections and stops the rate limiter.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.service.Health().MarkNotStarted()

	if s.limiter != nil {
		s.limiter.Stop()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Errorf("failed to shutdown server: %v", err)
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}
