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

// Package server assembles the key server from its configuration: storage,
// the keyserver service, rate limiting, metrics and the REST, gRPC and Unix
// socket listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-keypredist/internal/config"
	grpcinternal "github.com/jeremyhahn/go-keypredist/internal/grpc"
	"github.com/jeremyhahn/go-keypredist/internal/rest"
	"github.com/jeremyhahn/go-keypredist/internal/unix"
	"github.com/jeremyhahn/go-keypredist/pkg/crypto/aead"
	"github.com/jeremyhahn/go-keypredist/pkg/crypto/rand"
	"github.com/jeremyhahn/go-keypredist/pkg/health"
	"github.com/jeremyhahn/go-keypredist/pkg/keyserver"
	"github.com/jeremyhahn/go-keypredist/pkg/logging"
	"github.com/jeremyhahn/go-keypredist/pkg/metrics"
	"github.com/jeremyhahn/go-keypredist/pkg/ratelimit"
	"github.com/jeremyhahn/go-keypredist/pkg/storage"
	"github.com/jeremyhahn/go-keypredist/pkg/storage/file"
)

// Server owns every long-lived component of a running key server.
type Server struct {
	config  *config.Config
	mu      sync.RWMutex
	logger  *logging.Logger
	service *keyserver.Service
	backend  storage.Backend
	resolver rand.Resolver
	version  string

	restServer *rest.Server
	grpcServer *grpcinternal.Server
	unixServer *unix.Server
	limiter    *ratelimit.Limiter

	metricsCollector *metrics.RuntimeCollector

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	errCh      chan error
	shutdownCh chan struct{}
	shutdown   sync.Once
}

// Option customizes New.
type Option func(*options)

type options struct {
	version string
	rand    io.Reader
}

// WithVersion sets the version reported by GET /health. It defaults to the
// module version from the build information.
func WithVersion(version string) Option {
	return func(o *options) { o.version = version }
}

// WithRand overrides the randomness source of the service. The configured
// resolver still backs the rng readiness check.
func WithRand(r io.Reader) Option {
	return func(o *options) { o.rand = r }
}

// New builds a server from cfg. State is loaded and the schemes are
// generated as configured, but nothing listens until Start.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	o := &options{version: getBuildVersion()}
	for _, opt := range opts {
		opt(o)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     cfg,
		logger:     logger,
		version:    o.version,
		ctx:        ctx,
		cancel:     cancel,
		errCh:      make(chan error, 1),
		shutdownCh: make(chan struct{}),
	}

	if err := s.initializeRNG(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize RNG: %w", err)
	}

	if err := s.initializeStorage(); err != nil {
		cancel()
		s.closeRNG()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	rng := o.rand
	if rng == nil {
		rng = s.resolver
	}
	if err := s.initializeService(rng); err != nil {
		cancel()
		s.closeBackend()
		s.closeRNG()
		return nil, fmt.Errorf("failed to initialize key server: %w", err)
	}

	if err := s.initializeREST(); err != nil {
		cancel()
		s.closeBackend()
		s.closeRNG()
		return nil, fmt.Errorf("failed to initialize REST server: %w", err)
	}

	if err := s.initializeListeners(); err != nil {
		cancel()
		s.closeBackend()
		s.closeRNG()
		return nil, err
	}

	return s, nil
}

// getBuildVersion retrieves the version from build information
func getBuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "dev"
	}
	return info.Main.Version
}

func (s *Server) initializeRNG() error {
	mode, err := rand.ParseMode(s.config.RNG.Mode)
	if err != nil {
		return err
	}
	s.resolver, err = rand.NewResolver(mode)
	if err != nil {
		return err
	}
	s.logger.Info("rng initialized", "mode", s.resolver.Mode())
	return nil
}

func (s *Server) initializeStorage() error {
	switch s.config.Storage.Backend {
	case "memory":
		s.backend = storage.NewMemory()
	case "file":
		dir, err := s.config.DataDir()
		if err != nil {
			return err
		}
		fs, err := file.New(dir)
		if err != nil {
			return err
		}
		s.backend = fs
	default:
		return fmt.Errorf("unsupported storage backend: %q", s.config.Storage.Backend)
	}
	s.logger.Info("storage initialized", "backend", s.config.Storage.Backend, "path", s.config.Storage.Path)
	return nil
}

func (s *Server) initializeService(rng io.Reader) error {
	svc, err := keyserver.New(&keyserver.Config{
		Backend:        s.backend,
		Logger:         s.logger,
		Rand:           rng,
		PoolStateKey:   s.config.Storage.PoolStateKey,
		MatrixStateKey: s.config.Storage.MatrixStateKey,
		HealthTimeout:  s.config.Health.Timeout,
		Cipher: &aead.Options{
			TrackNonces: s.config.Encryption.TrackNonces,
			BytesLimit:  s.config.Encryption.BytesLimit,
		},
	})
	if err != nil {
		return err
	}
	svc.Health().Register("rng", health.RNGCheck(s.resolver))
	s.service = svc
	return s.bootstrapState()
}

// bootstrapState loads stored state when configured, then generates any
// scheme that is still uninitialized and has generation enabled.
func (s *Server) bootstrapState() error {
	var loaded keyserver.StateResult
	if s.config.Storage.LoadOnStart {
		result, err := s.service.LoadState()
		switch {
		case errors.Is(err, storage.ErrNotFound):
			s.logger.Info("no stored state found")
		case err != nil:
			return fmt.Errorf("failed to load state: %w", err)
		default:
			loaded = result
		}
	}

	if loaded.Pool == "" && s.config.Pool.Generate {
		if err := s.service.InitPool(s.config.Pool.Size, s.config.Pool.KeysPerUser); err != nil {
			return err
		}
	}
	if loaded.Matrix == "" && s.config.Matrix.Generate {
		prime, err := s.config.Matrix.PrimeInt()
		if err != nil {
			return err
		}
		if err := s.service.InitMatrix(prime, s.config.Matrix.Dimension); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) initializeREST() error {
	tlsConfig, err := s.config.TLS.Load()
	if err != nil {
		return err
	}

	if s.config.RateLimit.Enabled {
		s.limiter = ratelimit.New(&s.config.RateLimit)
	}

	metricsPath := ""
	if s.config.Metrics.Enabled {
		metricsPath = s.config.Metrics.Path
	}

	s.restServer, err = rest.NewServer(&rest.Config{
		Address:      s.config.Address(),
		Service:      s.service,
		Version:      s.version,
		TLSConfig:    tlsConfig,
		RateLimiter:  s.limiter,
		MetricsPath:  metricsPath,
		Logger:       s.logger,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	})
	return err
}

func (s *Server) initializeListeners() error {
	if s.config.GRPC.Enabled {
		tlsConfig, err := s.config.TLS.Load()
		if err != nil {
			return err
		}
		s.grpcServer, err = grpcinternal.NewServer(&grpcinternal.ServerConfig{
			Address:   s.config.GRPCAddress(),
			Service:   s.service,
			TLSConfig: tlsConfig,
			Logger:    s.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize gRPC server: %w", err)
		}
	}

	if s.config.Unix.Enabled {
		var err error
		s.unixServer, err = unix.NewServer(&unix.Config{
			SocketPath:   s.config.Unix.SocketPath,
			SocketMode:   s.config.Unix.SocketMode,
			Handler:      s.restServer.Handler(),
			Logger:       s.logger,
			ReadTimeout:  s.config.Server.ReadTimeout,
			WriteTimeout: s.config.Server.WriteTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize Unix socket server: %w", err)
		}
	}
	return nil
}

// Start enables metrics and starts every configured listener in the
// background. Listener failures are reported on Errors.
func (s *Server) Start() error {
	s.Logger().Info("starting key server", "address", s.config.Address(), "version", s.version)

	if s.config.Metrics.Enabled {
		metrics.Enable()
		interval := s.config.Metrics.RuntimeInterval
		if interval <= 0 {
			interval = 15 * time.Second
		}
		s.metricsCollector = metrics.StartRuntimeCollector(s.ctx, interval)
	} else {
		metrics.Disable()
	}

	s.serve(s.restServer.Start)
	if s.grpcServer != nil {
		s.Logger().Info("starting gRPC listener", "address", s.config.GRPCAddress())
		s.serve(s.grpcServer.Start)
	}
	if s.unixServer != nil {
		s.Logger().Info("starting Unix socket listener", "socket", s.unixServer.SocketPath())
		s.serve(s.unixServer.Start)
	}
	return nil
}

func (s *Server) serve(start func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := start(); err != nil {
			s.Logger().Error(err)
			select {
			case s.errCh <- err:
			default:
			}
		}
	}()
}

// Errors reports fatal listener errors.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown stops the listener, the runtime collector and closes storage.
// It is safe to call more than once.
func (s *Server) Shutdown() error {
	var err error
	s.shutdown.Do(func() {
		log := s.Logger()
		log.Info("shutting down key server")

		if s.metricsCollector != nil {
			s.metricsCollector.Stop()
		}
		s.cancel()

		timeout := s.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if stopErr := s.restServer.Stop(ctx); stopErr != nil {
			err = stopErr
		}
		if s.grpcServer != nil {
			if stopErr := s.grpcServer.Stop(ctx); stopErr != nil && err == nil {
				err = stopErr
			}
		}
		if s.unixServer != nil {
			if stopErr := s.unixServer.Stop(ctx); stopErr != nil && err == nil {
				err = stopErr
			}
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			log.Warn("shutdown timeout exceeded, forcing stop")
		}

		s.closeBackend()
		s.closeRNG()
		close(s.shutdownCh)
		log.Info("key server stopped")
	})
	return err
}

func (s *Server) closeBackend() {
	if s.backend == nil {
		return
	}
	if err := s.backend.Close(); err != nil {
		s.Logger().Errorf("error closing storage: %v", err)
	}
}

func (s *Server) closeRNG() {
	if s.resolver == nil {
		return
	}
	if err := s.resolver.Close(); err != nil {
		s.Logger().Errorf("error closing rng: %v", err)
	}
}

// WaitForShutdown blocks until Shutdown completes.
func (s *Server) WaitForShutdown() {
	<-s.shutdownCh
}

// Service returns the key server service.
func (s *Server) Service() *keyserver.Service {
	return s.service
}

// RESTServer returns the REST server instance
func (s *Server) RESTServer() *rest.Server {
	return s.restServer
}

// GRPCServer returns the gRPC server, or nil when disabled.
func (s *Server) GRPCServer() *grpcinternal.Server {
	return s.grpcServer
}

// UnixServer returns the Unix socket server, or nil when disabled.
func (s *Server) UnixServer() *unix.Server {
	return s.unixServer
}

// Logger returns the current server logger.
func (s *Server) Logger() *logging.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		cancel()
	}()

	return ctx
}
