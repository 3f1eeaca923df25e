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

package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/jeremyhahn/go-keypredist/pkg/correlation"
)

// correlationUnaryInterceptor takes the correlation ID from the
// x-correlation-id or x-request-id metadata, or generates one. The ID is
// stored in the handler context and echoed in the response header.
func (s *Server) correlationUnaryInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		md = metadata.MD{}
	}

	id := correlation.First(first(md, correlation.GRPCCorrelationIDKey), first(md, correlation.GRPCRequestIDKey))
	ctx = correlation.WithCorrelationID(ctx, id)

	if err := grpc.SetHeader(ctx, metadata.Pairs(correlation.GRPCCorrelationIDKey, id)); err != nil {
		s.logger.Warn("failed to set correlation id in response metadata", "method", info.FullMethod)
	}

	return handler(ctx, req)
}

func first(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}
