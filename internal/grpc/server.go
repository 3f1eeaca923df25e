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

// Package grpc serves the key predistribution operations over gRPC,
// together with the standard grpc.health.v1 service backed by the key
// server's readiness checks.
package grpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/jeremyhahn/go-keypredist/pkg/correlation"
	"github.com/jeremyhahn/go-keypredist/pkg/health"
	"github.com/jeremyhahn/go-keypredist/pkg/keyserver"
	"github.com/jeremyhahn/go-keypredist/pkg/logging"
	"github.com/jeremyhahn/go-keypredist/pkg/metrics"
)

// ServerConfig contains configuration for the gRPC server.
type ServerConfig struct {
	// Address is the listen address (default ":9090").
	Address string

	// Service is required.
	Service *keyserver.Service

	// TLSConfig enables TLS when set.
	TLSConfig *tls.Config

	// Logger defaults to the service logger.
	Logger *logging.Logger
}

// Server wraps grpc.Server with lifecycle management.
type Server struct {
	grpcSrv *grpc.Server
	address string
	logger  *logging.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a gRPC server. It does not start listening.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Service == nil {
		return nil, fmt.Errorf("key server service is required")
	}
	if cfg.Address == "" {
		cfg.Address = ":9090"
	}
	log := cfg.Logger
	if log == nil {
		log = cfg.Service.Logger()
	}

	s := &Server{
		address: cfg.Address,
		logger:  log.With("component", "grpc"),
	}

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			s.recoveryUnaryInterceptor,
			s.correlationUnaryInterceptor,
			metrics.GRPCUnaryServerInterceptor(),
			s.loggingUnaryInterceptor,
			errorHandlingUnaryInterceptor,
		),
	}
	if cfg.TLSConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(cfg.TLSConfig)))
	}

	s.grpcSrv = grpc.NewServer(opts...)
	s.grpcSrv.RegisterService(&ServiceDesc, NewService(cfg.Service))
	grpc_health_v1.RegisterHealthServer(s.grpcSrv, &healthServer{checker: cfg.Service.Health()})
	return s, nil
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("starting gRPC server", "address", ln.Addr().String())
	if err := s.grpcSrv.Serve(ln); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop drains in-flight RPCs, forcing the stop when ctx ends first.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping gRPC server")

	stopped := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("gRPC server stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("forcing gRPC server stop")
		s.grpcSrv.Stop()
		return ctx.Err()
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) loggingUnaryInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	start := time.Now()
	id := correlation.GetCorrelationID(ctx)
	s.logger.Debug("rpc started", "method", info.FullMethod, "correlation_id", id)

	resp, err := handler(ctx, req)

	s.logger.Info("rpc completed",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration", time.Since(start).String(),
		"correlation_id", id)
	return resp, err
}

func (s *Server) recoveryUnaryInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("recovered from panic in %s: %v", info.FullMethod, r)
			err = status.Error(codes.Internal, "internal server error")
		}
	}()
	return handler(ctx, req)
}

// errorHandlingUnaryInterceptor converts any error that is not yet a
// status into one.
func errorHandlingUnaryInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	resp, err := handler(ctx, req)
	return resp, toStatus(err)
}

// healthServer answers grpc.health.v1 checks from the readiness checks.
type healthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	checker *health.Checker
}

func (h *healthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	switch req.GetService() {
	case "", ServiceName:
	default:
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
	serving := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if health.AggregateStatus(h.checker.Ready(ctx)) != health.StatusUnhealthy {
		serving = grpc_health_v1.HealthCheckResponse_SERVING
	}
	return &grpc_health_v1.HealthCheckResponse{Status: serving}, nil
}
