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

// Package unix serves the REST API on a Unix domain socket for local
// clients.
package unix

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jeremyhahn/go-keypredist/pkg/logging"
)

// DefaultSocketPath is the default path for the Unix socket.
const DefaultSocketPath = "/var/run/kps/kps.sock"

// Config holds the Unix socket server configuration.
type Config struct {
	// SocketPath is the path to the socket file.
	SocketPath string

	// SocketMode is the file mode of the socket (default 0660).
	SocketMode os.FileMode

	// Handler serves every request. Required.
	Handler http.Handler

	// Logger defaults to logging.DefaultLogger.
	Logger *logging.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves an http.Handler on a Unix domain socket.
type Server struct {
	config *Config
	server *http.Server
	logger *logging.Logger
}

// NewServer creates a server. It does not create the socket.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.SocketMode == 0 {
		cfg.SocketMode = 0660
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logging.DefaultLogger()
	}

	return &Server{
		config: cfg,
		logger: log.With("component", "unix"),
		server: &http.Server{
			Handler:           cfg.Handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       120 * time.Second,
		},
	}, nil
}

// Start creates the socket, replacing a stale one, and serves until Stop.
func (s *Server) Start() error {
	path := s.config.SocketPath
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to create Unix socket listener: %w", err)
	}
	if err := os.Chmod(path, s.config.SocketMode); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.logger.Info("starting Unix socket server", "socket", path, "mode", s.config.SocketMode.String())
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("unix socket server error: %w", err)
	}
	return nil
}

// Stop shuts the server down and removes the socket file.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping Unix socket server")
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Errorf("error shutting down Unix socket server: %v", err)
		return err
	}
	if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warnf("failed to remove socket file: %v", err)
	}
	s.logger.Info("Unix socket server stopped")
	return nil
}

// SocketPath returns the path of the socket file.
func (s *Server) SocketPath() string {
	return s.config.SocketPath
}
