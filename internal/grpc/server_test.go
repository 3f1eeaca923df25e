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
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeremyhahn/go-keypredist/pkg/correlation"
	"github.com/jeremyhahn/go-keypredist/pkg/keyserver"
	"github.com/jeremyhahn/go-keypredist/pkg/logging"
	"github.com/jeremyhahn/go-keypredist/pkg/storage"
	"github.com/jeremyhahn/go-keypredist/pkg/validation"
)

func newTestClient(t *testing.T) (*grpc.ClientConn, *keyserver.Service) {
	t.Helper()
	svc, err := keyserver.New(&keyserver.Config{Backend: storage.NewMemory(), Logger: logging.Discard()})
	require.NoError(t, err)

	srv, err := NewServer(&ServerConfig{Service: svc})
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return conn, svc
}

func call(t *testing.T, conn *grpc.ClientConn, method string, fields map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	t.Helper()
	in, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	out := new(structpb.Struct)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func mustCall(t *testing.T, conn *grpc.ClientConn, method string, fields map[string]any) map[string]any {
	t.Helper()
	out, err := call(t, conn, method, fields)
	require.NoError(t, err)
	return out.AsMap()
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(nil)
	assert.Error(t, err)
	_, err = NewServer(&ServerConfig{})
	assert.Error(t, err)
}

func TestPoolOverGRPC(t *testing.T) {
	conn, svc := newTestClient(t)

	initResp := mustCall(t, conn, "InitPool", map[string]any{"pool_size": 10, "keys_per_user": 10})
	assert.Equal(t, float64(10), initResp["pool_size"])

	alice := mustCall(t, conn, "RegisterPoolUser", map[string]any{"user_id": "alice"})
	assert.Equal(t, "alice", alice["user_id"])
	assert.Len(t, alice["key_ids"], 10)
	mustCall(t, conn, "RegisterPoolUser", map[string]any{"user_id": "bob"})

	derived := mustCall(t, conn, "DeriveSecret", map[string]any{"a": "alice", "b": "bob"})
	assert.Equal(t, true, derived["shared"])
	assert.Len(t, derived["common_key_ids"], 10)

	secret, ok, err := svc.DeriveSecret("alice", "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, secret.Hex(), derived["secret"])
}

func TestMatrixOverGRPC(t *testing.T) {
	conn, _ := newTestClient(t)

	info := mustCall(t, conn, "InitMatrix", map[string]any{"dimension": 3})
	assert.Equal(t, "2147483647", info["prime"])
	assert.Equal(t, float64(3), info["dimension"])

	for _, u := range []string{"alice", "bob"} {
		user := mustCall(t, conn, "RegisterMatrixUser", map[string]any{"user_id": u})
		assert.Len(t, user["public_vector"], 3)
		assert.Len(t, user["secret_vector"], 3)
	}

	ab := mustCall(t, conn, "SharedValue", map[string]any{"requester": "alice", "other": "bob"})
	ba := mustCall(t, conn, "SharedValue", map[string]any{"requester": "bob", "other": "alice"})
	assert.Equal(t, ab["value"], ba["value"])

	key := mustCall(t, conn, "MatrixKey", map[string]any{"requester": "alice", "other": "bob", "size": 16})
	assert.Len(t, key["key"], 32)
	key = mustCall(t, conn, "MatrixKey", map[string]any{"requester": "bob", "other": "alice"})
	assert.Len(t, key["key"], 64)

	saved := mustCall(t, conn, "SaveState", nil)
	assert.NotEmpty(t, saved["matrix"])
	loaded := mustCall(t, conn, "LoadState", nil)
	assert.Equal(t, saved["matrix"], loaded["matrix"])
}

func TestErrorCodes(t *testing.T) {
	conn, _ := newTestClient(t)

	tests := []struct {
		name   string
		method string
		fields map[string]any
		want   codes.Code
	}{
		{"pool not initialized", "RegisterPoolUser", map[string]any{"user_id": "alice"}, codes.FailedPrecondition},
		{"matrix not initialized", "SharedValue", map[string]any{"requester": "a", "other": "b"}, codes.FailedPrecondition},
		{"missing user", "RegisterPoolUser", map[string]any{}, codes.InvalidArgument},
		{"user not a string", "RegisterPoolUser", map[string]any{"user_id": 7}, codes.InvalidArgument},
		{"fractional size", "InitPool", map[string]any{"pool_size": 1.5, "keys_per_user": 1}, codes.InvalidArgument},
		{"size beyond int32", "InitPool", map[string]any{"pool_size": 1e12, "keys_per_user": 1}, codes.InvalidArgument},
		{"size beyond limit", "InitPool", map[string]any{"pool_size": validation.MaxPoolSize + 1, "keys_per_user": 1}, codes.InvalidArgument},
		{"bad prime", "InitMatrix", map[string]any{"dimension": 2, "prime": "abc"}, codes.InvalidArgument},
		{"dimension beyond limit", "InitMatrix", map[string]any{"dimension": validation.MaxDimension + 1}, codes.InvalidArgument},
		{"nothing stored", "LoadState", nil, codes.NotFound},
		{"nothing to save", "SaveState", nil, codes.FailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, conn, tt.method, tt.fields)
			assert.Equal(t, tt.want, status.Code(err), "%v", err)
		})
	}

	mustCall(t, conn, "InitPool", map[string]any{"pool_size": 4, "keys_per_user": 2})
	_, err := call(t, conn, "DeriveSecret", map[string]any{"a": "ghost", "b": "other"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = call(t, conn, "Unknown", nil)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestCorrelationID(t *testing.T) {
	conn, _ := newTestClient(t)
	in, err := structpb.NewStruct(nil)
	require.NoError(t, err)

	ctx := metadata.AppendToOutgoingContext(context.Background(), correlation.GRPCRequestIDKey, "req-7")
	var header metadata.MD
	_ = conn.Invoke(ctx, FullMethod("LoadState"), in, new(structpb.Struct), grpc.Header(&header))
	assert.Equal(t, []string{"req-7"}, header.Get(correlation.GRPCCorrelationIDKey))

	header = nil
	_ = conn.Invoke(context.Background(), FullMethod("LoadState"), in, new(structpb.Struct), grpc.Header(&header))
	require.Len(t, header.Get(correlation.GRPCCorrelationIDKey), 1)
	_, err = uuid.Parse(header.Get(correlation.GRPCCorrelationIDKey)[0])
	assert.NoError(t, err)
}

func TestHealthService(t *testing.T) {
	conn, _ := newTestClient(t)
	client := grpc_health_v1.NewHealthClient(conn)
	ctx := context.Background()

	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())

	resp, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())

	_, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "other"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestStartAndStop(t *testing.T) {
	svc, err := keyserver.New(&keyserver.Config{Logger: logging.Discard()})
	require.NoError(t, err)
	srv, err := NewServer(&ServerConfig{Address: "127.0.0.1:0", Service: svc})
	require.NoError(t, err)
	assert.Nil(t, srv.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	if err := <-errCh; err != nil {
		assert.ErrorIs(t, err, grpc.ErrServerStopped)
	}
}
