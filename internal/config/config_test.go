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

package config

import (
	"crypto/tls"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keypredist/internal/testutil"
	"github.com/jeremyhahn/go-keypredist/internal/unix"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kps.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 100, cfg.Pool.Size)
	assert.Equal(t, 10, cfg.Pool.KeysPerUser)
	assert.Equal(t, "2147483647", cfg.Matrix.Prime)
	assert.Equal(t, 4, cfg.Matrix.Dimension)
	assert.Equal(t, "kps_state.json", cfg.Storage.PoolStateKey)
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
	assert.Equal(t, "auto", cfg.RNG.Mode)
	assert.True(t, cfg.Encryption.TrackNonces)
	assert.False(t, cfg.GRPC.Enabled)
	assert.False(t, cfg.Unix.Enabled)
	assert.Equal(t, unix.DefaultSocketPath, cfg.Unix.SocketPath)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Pool, cfg.Pool)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 9443
  shutdown_timeout: 5s
logging:
  level: debug
  format: json
ratelimit:
  enabled: true
  requests_per_minute: 60
  burst: 5
storage:
  backend: memory
pool:
  size: 50
  keys_per_user: 8
matrix:
  prime: "170141183460469231731687303715884105727"
  dimension: 6
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9443", cfg.Address())
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 50, cfg.Pool.Size)

	prime, err := cfg.Matrix.PrimeInt()
	require.NoError(t, err)
	want := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	assert.Equal(t, 0, want.Cmp(prime))
}

func TestLoad_Listeners(t *testing.T) {
	path := writeConfig(t, `
rng:
  mode: software
encryption:
  track_nonces: false
  bytes_limit: 1048576
grpc:
  enabled: true
  port: 9191
unix:
  enabled: true
  socket_path: /tmp/kps-test.sock
  socket_mode: 0600
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "software", cfg.RNG.Mode)
	assert.Equal(t, EncryptionConfig{TrackNonces: false, BytesLimit: 1 << 20}, cfg.Encryption)
	assert.True(t, cfg.GRPC.Enabled)
	assert.Equal(t, "0.0.0.0:9191", cfg.GRPCAddress())
	assert.Equal(t, UnixConfig{Enabled: true, SocketPath: "/tmp/kps-test.sock", SocketMode: 0600}, cfg.Unix)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "pool:\n  size: 5\n  keys_per_user: 6\n"))
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KPS_HOST", "localhost")
	t.Setenv("KPS_PORT", "9000")
	t.Setenv("KPS_LOG_LEVEL", "warn")
	t.Setenv("KPS_LOG_FORMAT", "json")
	t.Setenv("KPS_DATA_DIR", "/var/lib/kps")
	t.Setenv("KPS_POOL_SIZE", "40")
	t.Setenv("KPS_KEYS_PER_USER", "4")
	t.Setenv("KPS_PRIME", "101")
	t.Setenv("KPS_DIMENSION", "3")
	t.Setenv("KPS_RNG_MODE", "software")
	t.Setenv("KPS_GRPC_PORT", "9300")
	t.Setenv("KPS_SOCKET_PATH", "/run/kps.sock")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", cfg.Address())
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/var/lib/kps", cfg.Storage.Path)
	assert.Equal(t, PoolConfig{Size: 40, KeysPerUser: 4, Generate: true}, cfg.Pool)
	assert.Equal(t, "101", cfg.Matrix.Prime)
	assert.Equal(t, 3, cfg.Matrix.Dimension)
	assert.Equal(t, "software", cfg.RNG.Mode)
	assert.Equal(t, 9300, cfg.GRPC.Port)
	assert.Equal(t, "/run/kps.sock", cfg.Unix.SocketPath)
}

func TestLoad_InvalidEnvIgnored(t *testing.T) {
	t.Setenv("KPS_PORT", "http")
	t.Setenv("KPS_POOL_SIZE", "many")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Pool.Size)

	t.Setenv("KPS_PORT", "70000")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"tls cert", func(c *Config) { c.TLS.Enabled = true }},
		{"tls key", func(c *Config) { c.TLS.Enabled = true; c.TLS.CertFile = "cert.pem" }},
		{"ratelimit", func(c *Config) { c.RateLimit.Enabled = true; c.RateLimit.RequestsPerMinute = 0 }},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }},
		{"storage backend", func(c *Config) { c.Storage.Backend = "s3" }},
		{"storage path", func(c *Config) { c.Storage.Path = "" }},
		{"negative pool", func(c *Config) { c.Pool.Size = -1 }},
		{"keys per user", func(c *Config) { c.Pool.KeysPerUser = 101 }},
		{"prime syntax", func(c *Config) { c.Matrix.Prime = "0x7f" }},
		{"prime small", func(c *Config) { c.Matrix.Prime = "2" }},
		{"dimension", func(c *Config) { c.Matrix.Dimension = 0 }},
		{"oversized pool", func(c *Config) { c.Pool.Size = 1 << 30 }},
		{"oversized dimension", func(c *Config) { c.Matrix.Dimension = 100000 }},
		{"rng mode", func(c *Config) { c.RNG.Mode = "quantum" }},
		{"bytes limit", func(c *Config) { c.Encryption.BytesLimit = -1 }},
		{"grpc port", func(c *Config) { c.GRPC.Enabled = true; c.GRPC.Port = 0 }},
		{"grpc port collision", func(c *Config) { c.GRPC.Enabled = true; c.GRPC.Port = c.Server.Port }},
		{"unix socket path", func(c *Config) { c.Unix.Enabled = true; c.Unix.SocketPath = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMatrixConfig_PrimeIntDefault(t *testing.T) {
	p, err := MatrixConfig{}.PrimeInt()
	require.NoError(t, err)
	assert.Equal(t, int64(2147483647), p.Int64())
}

func TestDataDir(t *testing.T) {
	cfg := Default()
	dir, err := cfg.DataDir()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(dir))
}

func TestTLSConfig_Load(t *testing.T) {
	disabled, err := (&TLSConfig{}).Load()
	require.NoError(t, err)
	assert.Nil(t, disabled)

	certs := testutil.WriteServerCerts(t)
	cfg := &TLSConfig{
		Enabled:    true,
		CertFile:   certs.CertFile,
		KeyFile:    certs.KeyFile,
		CAFile:     certs.CAFile,
		ClientAuth: "verify",
		MinVersion: "TLS1.3",
	}
	tlsConfig, err := cfg.Load()
	require.NoError(t, err)
	assert.Len(t, tlsConfig.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS13), tlsConfig.MinVersion)
	assert.Equal(t, tls.VerifyClientCertIfGiven, tlsConfig.ClientAuth)
	assert.NotNil(t, tlsConfig.ClientCAs)
}

func TestTLSConfig_LoadErrors(t *testing.T) {
	certs := testutil.WriteServerCerts(t)
	certFile, keyFile := certs.CertFile, certs.KeyFile

	_, err := (&TLSConfig{Enabled: true, CertFile: "missing.pem", KeyFile: keyFile}).Load()
	assert.Error(t, err)

	_, err = (&TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "SSL3"}).Load()
	assert.Error(t, err)

	_, err = (&TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, ClientAuth: "maybe"}).Load()
	assert.Error(t, err)

	_, err = (&TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, CAFile: keyFile}).Load()
	assert.Error(t, err)
}
