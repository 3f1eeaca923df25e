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

// Package config loads the key server configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-keypredist/internal/unix"
	"github.com/jeremyhahn/go-keypredist/pkg/crypto/rand"
	"github.com/jeremyhahn/go-keypredist/pkg/logging"
	"github.com/jeremyhahn/go-keypredist/pkg/matrix"
	"github.com/jeremyhahn/go-keypredist/pkg/provisioning"
	"github.com/jeremyhahn/go-keypredist/pkg/ratelimit"
	"github.com/jeremyhahn/go-keypredist/pkg/validation"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KPS_"

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   logging.Config   `yaml:"logging"`
	TLS       TLSConfig        `yaml:"tls"`
	RateLimit ratelimit.Config `yaml:"ratelimit"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Health    HealthConfig     `yaml:"health"`
	Storage   StorageConfig    `yaml:"storage"`
	Pool      PoolConfig       `yaml:"pool"`
	Matrix    MatrixConfig     `yaml:"matrix"`

	RNG        RNGConfig        `yaml:"rng"`
	Encryption EncryptionConfig `yaml:"encryption"`
	GRPC       GRPCConfig       `yaml:"grpc"`
	Unix       UnixConfig       `yaml:"unix"`
}

// ServerConfig contains listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Path            string        `yaml:"path"`
	RuntimeInterval time.Duration `yaml:"runtime_interval"`
}

// HealthConfig controls readiness checks.
type HealthConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig selects where state documents are kept.
type StorageConfig struct {
	// Backend is file or memory.
	Backend        string `yaml:"backend"`
	Path           string `yaml:"path"`
	PoolStateKey   string `yaml:"pool_state_key"`
	MatrixStateKey string `yaml:"matrix_state_key"`

	// LoadOnStart restores any stored state when the server starts.
	LoadOnStart bool `yaml:"load_on_start"`
}

// PoolConfig holds the key pool parameters.
type PoolConfig struct {
	Size        int  `yaml:"size"`
	KeysPerUser int  `yaml:"keys_per_user"`
	Generate    bool `yaml:"generate"`
}

// MatrixConfig holds the matrix scheme parameters. Prime is a decimal
// string so arbitrarily large moduli can be configured.
type MatrixConfig struct {
	Prime     string `yaml:"prime"`
	Dimension int    `yaml:"dimension"`
	Generate  bool   `yaml:"generate"`
}

// RNGConfig selects the randomness source for key material.
type RNGConfig struct {
	// Mode is auto or software.
	Mode string `yaml:"mode"`
}

// EncryptionConfig limits how each pairwise key may be used for sealing.
type EncryptionConfig struct {
	TrackNonces bool `yaml:"track_nonces"`

	// BytesLimit caps the plaintext sealed under one pairwise key. Zero
	// disables the cap.
	BytesLimit int64 `yaml:"bytes_limit"`
}

// GRPCConfig controls the gRPC listener.
type GRPCConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// UnixConfig controls the local Unix domain socket listener.
type UnixConfig struct {
	Enabled    bool        `yaml:"enabled"`
	SocketPath string      `yaml:"socket_path"`
	SocketMode os.FileMode `yaml:"socket_mode"`
}

// PrimeInt parses Prime. An empty value selects matrix.DefaultPrime.
func (m MatrixConfig) PrimeInt() (*big.Int, error) {
	if m.Prime == "" {
		return new(big.Int).Set(matrix.DefaultPrime), nil
	}
	p, ok := new(big.Int).SetString(m.Prime, 10)
	if !ok {
		return nil, fmt.Errorf("invalid matrix prime %q", m.Prime)
	}
	return p, nil
}

// Default returns the built-in configuration: a 100 key pool with 10 keys
// per user and a dimension 4 matrix over 2^31-1.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: logging.Config{Level: "info", Format: "text"},
		RateLimit: ratelimit.Config{
			Enabled:           false,
			RequestsPerMinute: 600,
			Burst:             100,
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			Path:            "/metrics",
			RuntimeInterval: 15 * time.Second,
		},
		Health: HealthConfig{Timeout: 2 * time.Second},
		Storage: StorageConfig{
			Backend:        "file",
			Path:           "data",
			PoolStateKey:   provisioning.DefaultPoolKey,
			MatrixStateKey: provisioning.DefaultMatrixKey,
		},
		Pool:   PoolConfig{Size: 100, KeysPerUser: 10, Generate: true},
		Matrix: MatrixConfig{Prime: matrix.DefaultPrime.String(), Dimension: matrix.DefaultDimension, Generate: true},
		RNG:    RNGConfig{Mode: string(rand.ModeAuto)},
		Encryption: EncryptionConfig{
			TrackNonces: true,
		},
		GRPC: GRPCConfig{Enabled: false, Port: 9090},
		Unix: UnixConfig{
			Enabled:    false,
			SocketPath: unix.DefaultSocketPath,
			SocketMode: 0660,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path uses the defaults alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - config file path is provided by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv(EnvPrefix + "HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port, ok := envInt("PORT"); ok {
		if port < 1 || port > 65535 {
			slog.Warn("ignoring out of range port override", "env", EnvPrefix+"PORT", "value", port)
		} else {
			cfg.Server.Port = port
		}
	}

	if level := os.Getenv(EnvPrefix + "LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv(EnvPrefix + "LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	if dataDir := os.Getenv(EnvPrefix + "DATA_DIR"); dataDir != "" {
		cfg.Storage.Path = dataDir
	}
	if backend := os.Getenv(EnvPrefix + "STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}

	if size, ok := envInt("POOL_SIZE"); ok {
		cfg.Pool.Size = size
	}
	if kpu, ok := envInt("KEYS_PER_USER"); ok {
		cfg.Pool.KeysPerUser = kpu
	}
	if prime := os.Getenv(EnvPrefix + "PRIME"); prime != "" {
		cfg.Matrix.Prime = prime
	}
	if dim, ok := envInt("DIMENSION"); ok {
		cfg.Matrix.Dimension = dim
	}

	if mode := os.Getenv(EnvPrefix + "RNG_MODE"); mode != "" {
		cfg.RNG.Mode = mode
	}
	if port, ok := envInt("GRPC_PORT"); ok {
		cfg.GRPC.Port = port
	}
	if socket := os.Getenv(EnvPrefix + "SOCKET_PATH"); socket != "" {
		cfg.Unix.SocketPath = socket
	}
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(EnvPrefix + name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("ignoring invalid integer override", "env", EnvPrefix+name, "value", raw, "error", err)
		return 0, false
	}
	return v, true
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("ratelimit requests_per_minute must be positive when enabled")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /: %q", c.Metrics.Path)
	}

	switch c.Storage.Backend {
	case "memory":
	case "file":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path must be specified for the file backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %q (must be file or memory)", c.Storage.Backend)
	}

	if err := validation.ValidatePoolParameters(c.Pool.Size, c.Pool.KeysPerUser); err != nil {
		return fmt.Errorf("pool: %w", err)
	}

	prime, err := c.Matrix.PrimeInt()
	if err != nil {
		return err
	}
	if prime.Cmp(big.NewInt(2)) <= 0 {
		return fmt.Errorf("matrix prime must be greater than 2")
	}
	if err := validation.ValidateMatrixParameters(prime, c.Matrix.Dimension); err != nil {
		return fmt.Errorf("matrix: %w", err)
	}

	if _, err := rand.ParseMode(c.RNG.Mode); err != nil {
		return err
	}
	if c.Encryption.BytesLimit < 0 {
		return fmt.Errorf("encryption bytes_limit must not be negative: %d", c.Encryption.BytesLimit)
	}

	if c.GRPC.Enabled {
		if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
			return fmt.Errorf("invalid grpc port: %d", c.GRPC.Port)
		}
		if c.GRPC.Port == c.Server.Port {
			return fmt.Errorf("grpc port %d collides with the REST port", c.GRPC.Port)
		}
	}
	if c.Unix.Enabled && c.Unix.SocketPath == "" {
		return fmt.Errorf("unix socket_path is required when the unix listener is enabled")
	}
	return nil
}

// Address returns the host:port the server listens on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// GRPCAddress returns the host:port the gRPC server listens on.
func (c *Config) GRPCAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.GRPC.Port))
}

// DataDir returns the absolute storage path.
func (c *Config) DataDir() (string, error) {
	return filepath.Abs(c.Storage.Path)
}
