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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keypredist/pkg/crypto/aead"
	"github.com/jeremyhahn/go-keypredist/pkg/health"
	"github.com/jeremyhahn/go-keypredist/pkg/keyserver"
	"github.com/jeremyhahn/go-keypredist/pkg/logging"
	"github.com/jeremyhahn/go-keypredist/pkg/matrix"
	"github.com/jeremyhahn/go-keypredist/pkg/ratelimit"
	"github.com/jeremyhahn/go-keypredist/pkg/storage"
	"github.com/jeremyhahn/go-keypredist/pkg/types"
	"github.com/jeremyhahn/go-keypredist/pkg/validation"
)

func newTestServer(t *testing.T, limiter *ratelimit.Limiter) (*Server, *keyserver.Service) {
	t.Helper()
	svc, err := keyserver.New(&keyserver.Config{Backend: storage.NewMemory(), Logger: logging.Discard()})
	require.NoError(t, err)
	srv, err := NewServer(&Config{
		Service:     svc,
		Version:     "test",
		RateLimiter: limiter,
		MetricsPath: "/metrics",
	})
	require.NoError(t, err)
	return srv, svc
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(nil)
	assert.Error(t, err)
	_, err = NewServer(&Config{})
	assert.Error(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	srv, svc := newTestServer(t, nil)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, health.StatusDegraded, resp.Status)

	rec = do(t, h, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/health/startup", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	svc.Health().MarkStarted()
	rec = do(t, h, http.MethodGet, "/health/startup", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	ready := decode[HealthCheckResponse](t, rec)
	assert.Len(t, ready.Checks, 3)

	require.NoError(t, svc.Close())
	rec = do(t, h, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	do(t, h, http.MethodGet, "/health", nil)
	rec := do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kps_")
}

func TestPoolEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/pool/users", RegisterRequest{UserID: "alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/pool", InitPoolRequest{PoolSize: 20, KeysPerUser: 20})
	require.Equal(t, http.StatusCreated, rec.Code)

	for _, u := range []string{"alice", "bob"} {
		rec = do(t, h, http.MethodPost, "/api/v1/pool/users", RegisterRequest{UserID: u})
		require.Equal(t, http.StatusCreated, rec.Code)
		info := decode[PoolUserInfo](t, rec)
		assert.Equal(t, u, info.UserID)
		assert.Len(t, info.KeyIDs, 20)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/pool", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, PoolInfo{PoolSize: 20, KeysPerUser: 20, Users: 2}, decode[PoolInfo](t, rec))

	rec = do(t, h, http.MethodGet, "/api/v1/pool/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ListPoolUsersResponse](t, rec).Users, 2)

	rec = do(t, h, http.MethodGet, "/api/v1/pool/users/alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/v1/pool/users/mallory", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/pool/keys?ids=3,1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	keys := decode[ListKeysResponse](t, rec).Keys
	require.Len(t, keys, 2)
	assert.Equal(t, 1, keys[0].KeyID)
	assert.Len(t, keys[0].Value, 32)

	rec = do(t, h, http.MethodGet, "/api/v1/pool/keys?ids=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/pool/common?a=alice&b=bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[CommonKeysResponse](t, rec).KeyIDs, 20)

	rec = do(t, h, http.MethodGet, "/api/v1/pool/derive?a=alice&b=bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ab := decode[DeriveResponse](t, rec)
	assert.True(t, ab.Shared)
	assert.Len(t, ab.Secret, 64)

	rec = do(t, h, http.MethodGet, "/api/v1/pool/derive?a=bob&b=alice", nil)
	assert.Equal(t, ab.Secret, decode[DeriveResponse](t, rec).Secret)

	rec = do(t, h, http.MethodGet, "/api/v1/pool/derive?a=alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/v1/pool/derive?a=alice&b=mallory", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/pool/overlap", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	overlap := decode[keyserver.OverlapMatrix](t, rec)
	assert.Equal(t, [][]int{{20, 20}, {20, 20}}, overlap.Counts)

	rec = do(t, h, http.MethodGet, "/api/v1/pool/assignment", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[keyserver.AssignmentMatrix](t, rec).KeyIDs, 20)
}

func TestPoolEndpoints_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/pool", InitPoolRequest{PoolSize: 2, KeysPerUser: 3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "invalid parameters")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pool", strings.NewReader(`{"pool_size": "ten"}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/pool", strings.NewReader(`{"size": 10}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/pool", InitPoolRequest{PoolSize: 4, KeysPerUser: 2})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/pool/users", RegisterRequest{UserID: "no spaces"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatrixEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/matrix", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/matrix", InitMatrixRequest{Prime: "abc", Dimension: 3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/matrix", InitMatrixRequest{Dimension: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/matrix", InitMatrixRequest{Dimension: 3})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "2147483647", decode[MatrixInfo](t, rec).Prime)

	rec = do(t, h, http.MethodPost, "/api/v1/matrix/users", RegisterRequest{UserID: "alice"})
	require.Equal(t, http.StatusCreated, rec.Code)
	alice := decode[MatrixUserInfo](t, rec)
	assert.Len(t, alice.SecretVector, 3)
	assert.Len(t, alice.PublicVector, 3)

	rec = do(t, h, http.MethodPost, "/api/v1/matrix/users", RegisterRequest{UserID: "bob"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/matrix/users/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[MatrixUserInfo](t, rec)
	assert.Empty(t, got.SecretVector)
	assert.Equal(t, alice.PublicVector, got.PublicVector)

	rec = do(t, h, http.MethodGet, "/api/v1/matrix/users", nil)
	assert.Len(t, decode[ListMatrixUsersResponse](t, rec).Users, 2)

	rec = do(t, h, http.MethodGet, "/api/v1/matrix/shared?requester=alice&other=bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ab := decode[SharedValueResponse](t, rec)
	rec = do(t, h, http.MethodGet, "/api/v1/matrix/shared?requester=bob&other=alice", nil)
	assert.Equal(t, ab.Value, decode[SharedValueResponse](t, rec).Value)

	rec = do(t, h, http.MethodGet, "/api/v1/matrix/key?requester=alice&other=bob&size=16", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[MatrixKeyResponse](t, rec).Key, 32)

	rec = do(t, h, http.MethodGet, "/api/v1/matrix/key?requester=alice&other=bob&size=big", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/v1/matrix/shared?requester=alice&other=carol", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOversizedParameters(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pool",
		strings.NewReader(`{"pool_size": 1099511627776, "keys_per_user": 1}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "pool size")

	rec = do(t, h, http.MethodPost, "/api/v1/pool", InitPoolRequest{PoolSize: validation.MaxPoolSize + 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/matrix", InitMatrixRequest{Dimension: validation.MaxDimension + 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/matrix", InitMatrixRequest{Prime: strings.Repeat("9", 1300), Dimension: 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/matrix", InitMatrixRequest{Dimension: 2})
	require.Equal(t, http.StatusCreated, rec.Code)
	for _, user := range []string{"alice", "bob"} {
		rec = do(t, h, http.MethodPost, "/api/v1/matrix/users", RegisterRequest{UserID: user})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	for _, size := range []string{"70368744177664", "9000", strconv.Itoa(matrix.MaxKeySize + 1), "-1"} {
		rec = do(t, h, http.MethodGet, "/api/v1/matrix/key?requester=alice&other=bob&size="+size, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "size %s", size)
	}
	rec = do(t, h, http.MethodGet, fmt.Sprintf("/api/v1/matrix/key?requester=alice&other=bob&size=%d", matrix.MaxKeySize), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[MatrixKeyResponse](t, rec).Key, 2*matrix.MaxKeySize)
}

func TestEncryptDecryptEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/pool", InitPoolRequest{PoolSize: 8, KeysPerUser: 8}).Code)
	for _, u := range []string{"alice", "bob"} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/pool/users", RegisterRequest{UserID: u}).Code)
	}

	rec := do(t, h, http.MethodPost, "/api/v1/encrypt", EncryptRequest{
		Scheme:    "pool",
		Sender:    "alice",
		Recipient: "bob",
		Algorithm: "aes-gcm",
		Plaintext: []byte("hello bob"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sealed := decode[EncryptResponse](t, rec)

	rec = do(t, h, http.MethodPost, "/api/v1/decrypt", DecryptRequest{
		Scheme:     "pool",
		Sender:     "alice",
		Recipient:  "bob",
		Algorithm:  sealed.Algorithm,
		Nonce:      sealed.Nonce,
		Ciphertext: sealed.Ciphertext,
		Tag:        sealed.Tag,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "hello bob", string(decode[DecryptResponse](t, rec).Plaintext))

	sealed.Tag[0] ^= 0xff
	rec = do(t, h, http.MethodPost, "/api/v1/decrypt", DecryptRequest{
		Scheme:     "pool",
		Sender:     "alice",
		Recipient:  "bob",
		Algorithm:  sealed.Algorithm,
		Nonce:      sealed.Nonce,
		Ciphertext: sealed.Ciphertext,
		Tag:        sealed.Tag,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/encrypt", EncryptRequest{Scheme: "ring", Sender: "alice", Recipient: "bob"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEncryptRepeatedNonce(t *testing.T) {
	svc, err := keyserver.New(&keyserver.Config{
		Backend: storage.NewMemory(),
		Logger:  logging.Discard(),
		Cipher:  &aead.Options{TrackNonces: true},
	})
	require.NoError(t, err)
	srv, err := NewServer(&Config{Service: svc, Version: "test"})
	require.NoError(t, err)
	h := srv.Handler()

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/matrix", InitMatrixRequest{Dimension: 2}).Code)
	for _, u := range []string{"alice", "bob"} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/matrix/users", RegisterRequest{UserID: u}).Code)
	}

	req := EncryptRequest{
		Scheme:    "matrix",
		Sender:    "alice",
		Recipient: "bob",
		Algorithm: "chacha20-poly1305",
		Plaintext: []byte("once"),
		Nonce:     bytes.Repeat([]byte{7}, 12),
	}
	rec := do(t, h, http.MethodPost, "/api/v1/encrypt", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, req.Nonce, decode[EncryptResponse](t, rec).Nonce)

	// bob sealing to alice shares the pair's cipher
	req.Sender, req.Recipient = "bob", "alice"
	rec = do(t, h, http.MethodPost, "/api/v1/encrypt", req)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	req.Nonce = []byte{1, 2, 3}
	rec = do(t, h, http.MethodPost, "/api/v1/encrypt", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStateEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/state/load", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/state/save", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/pool", InitPoolRequest{PoolSize: 10, KeysPerUser: 3}).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/pool/users", RegisterRequest{UserID: "alice"}).Code)

	rec = do(t, h, http.MethodPost, "/api/v1/state/save", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "kps_state.json", decode[StateResponse](t, rec).Pool)

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/pool", InitPoolRequest{PoolSize: 10, KeysPerUser: 3}).Code)
	rec = do(t, h, http.MethodGet, "/api/v1/pool/users/alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/state/load", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/v1/pool/users/alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiting(t *testing.T) {
	limiter := ratelimit.New(&ratelimit.Config{Enabled: true, RequestsPerMinute: 1, Burst: 1})
	defer limiter.Stop()
	srv, _ := newTestServer(t, limiter)
	h := srv.Handler()

	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodGet, "/api/v1/pool", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodGet, "/api/v1/pool", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health/live", nil).Code)
}

func TestCorrelationAndCORS(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Correlation-ID", "trace-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "trace-123", rec.Header().Get("X-Correlation-ID"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodOptions, "/api/v1/pool", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.RecoveryMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := do(t, h, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, ErrInternalError.Error(), decode[ErrorResponse](t, rec).Error)
}

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{types.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("x: %w", types.ErrUnknownUser), http.StatusNotFound},
		{storage.ErrNotFound, http.StatusNotFound},
		{types.ErrInsufficientPool, http.StatusBadRequest},
		{types.ErrInvalidAlgorithm, http.StatusBadRequest},
		{aead.ErrAuthenticationFailed, http.StatusBadRequest},
		{ErrMissingUser, http.StatusBadRequest},
		{types.ErrEmptyPool, http.StatusConflict},
		{types.ErrUninitializedMatrix, http.StatusConflict},
		{types.ErrInvalidState, http.StatusConflict},
		{aead.ErrNonceReuse, http.StatusConflict},
		{fmt.Errorf("x: %w", aead.ErrBytesLimitExceeded), http.StatusConflict},
		{types.ErrNoSharedKeys, http.StatusUnprocessableEntity},
		{types.ErrDimensionMismatch, http.StatusInternalServerError},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, mapErrorToStatusCode(tt.err))
		})
	}
}

func TestServeAndStop(t *testing.T) {
	srv, svc := newTestServer(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	url := "http://" + ln.Addr().String() + "/health/live"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, svc.Health().IsStarted())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, <-done)
	assert.False(t, svc.Health().IsStarted())
}
