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

// Package keyserver exposes the pool and matrix authorities as a single
// service used by the REST server and the CLI. It validates identifiers,
// records metrics and persists state through a storage backend.
package keyserver

import (
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/jeremyhahn/go-keypredist/pkg/crypto/aead"
	"github.com/jeremyhahn/go-keypredist/pkg/health"
	"github.com/jeremyhahn/go-keypredist/pkg/logging"
	"github.com/jeremyhahn/go-keypredist/pkg/matrix"
	"github.com/jeremyhahn/go-keypredist/pkg/metrics"
	"github.com/jeremyhahn/go-keypredist/pkg/pool"
	"github.com/jeremyhahn/go-keypredist/pkg/provisioning"
	"github.com/jeremyhahn/go-keypredist/pkg/storage"
	"github.com/jeremyhahn/go-keypredist/pkg/types"
	"github.com/jeremyhahn/go-keypredist/pkg/validation"
)

// Config configures a Service.
type Config struct {
	// Backend stores state documents. Defaults to an in-memory backend.
	Backend storage.Backend

	// Logger defaults to logging.DefaultLogger.
	Logger *logging.Logger

	// Rand overrides the randomness source for generation and registration.
	Rand io.Reader

	// PoolStateKey and MatrixStateKey name the state documents.
	PoolStateKey   string
	MatrixStateKey string

	// HealthTimeout bounds each readiness check.
	HealthTimeout time.Duration

	// Cipher sets the usage limits of every pairwise cipher.
	Cipher *aead.Options
}

// Service owns the optional pool and matrix authorities. Either scheme may
// be initialized independently; initializing again replaces it.
type Service struct {
	mu     sync.RWMutex
	pool   *pool.Authority
	matrix *matrix.Authority

	provisioner *provisioning.Provisioner
	health      *health.Checker
	logger      *logging.Logger
	rng         io.Reader
	poolKey     string
	matrixKey   string

	cipherMu   sync.Mutex
	ciphers    map[cipherID]cachedCipher
	cipherOpts aead.Options
}

// New creates a service with no initialized scheme.
func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	backend := cfg.Backend
	if backend == nil {
		backend = storage.NewMemory()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	poolKey := cfg.PoolStateKey
	if poolKey == "" {
		poolKey = provisioning.DefaultPoolKey
	}
	matrixKey := cfg.MatrixStateKey
	if matrixKey == "" {
		matrixKey = provisioning.DefaultMatrixKey
	}

	for _, key := range []string{poolKey, matrixKey} {
		if err := validation.ValidateStateKey(key); err != nil {
			return nil, err
		}
	}

	prov, err := provisioning.New(backend, nil)
	if err != nil {
		return nil, err
	}

	s := &Service{
		provisioner: prov,
		health:      health.NewChecker(cfg.HealthTimeout),
		logger:      logger.With("component", "keyserver"),
		rng:         cfg.Rand,
		poolKey:     poolKey,
		matrixKey:   matrixKey,
		ciphers:     make(map[cipherID]cachedCipher),
	}
	if cfg.Cipher != nil {
		s.cipherOpts = *cfg.Cipher
	}
	s.health.Register("pool", health.PoolCheck(s.poolAuthority))
	s.health.Register("matrix", health.MatrixCheck(s.matrixAuthority))
	s.health.Register("storage", health.StorageCheck(backend))
	return s, nil
}

// Health returns the service's health checker.
func (s *Service) Health() *health.Checker {
	return s.health
}

// Logger returns the service logger.
func (s *Service) Logger() *logging.Logger {
	return s.logger
}

// Close releases the storage backend.
func (s *Service) Close() error {
	return s.provisioner.Backend().Close()
}

// InitPool generates a new key pool, discarding any previous pool and its
// users.
func (s *Service) InitPool(poolSize, keysPerUser int) (err error) {
	done := metrics.Track(metrics.OpGenerate, types.SchemePool.String())
	defer func() { done(err) }()

	if err = validation.ValidatePoolParameters(poolSize, keysPerUser); err != nil {
		return err
	}
	a, err := pool.NewAuthority(&pool.Config{PoolSize: poolSize, KeysPerUser: keysPerUser, Rand: s.rng})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.pool = a
	s.mu.Unlock()
	s.dropCiphers(types.SchemePool)

	s.publishPoolGauges(a)
	s.logger.Info("generated key pool", "pool_size", poolSize, "keys_per_user", keysPerUser)
	return nil
}

// InitMatrix generates a new symmetric matrix, discarding any previous
// matrix and its users. A nil prime selects matrix.DefaultPrime.
func (s *Service) InitMatrix(prime *big.Int, dimension int) (err error) {
	done := metrics.Track(metrics.OpGenerate, types.SchemeMatrix.String())
	defer func() { done(err) }()

	if err = validation.ValidateMatrixParameters(prime, dimension); err != nil {
		return err
	}
	if prime == nil {
		prime = matrix.DefaultPrime
	}
	a, err := matrix.NewAuthority(&matrix.Config{Prime: prime, Dimension: dimension, Rand: s.rng})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.matrix = a
	s.mu.Unlock()
	s.dropCiphers(types.SchemeMatrix)

	metrics.SetUsers(types.SchemeMatrix.String(), 0)
	s.logger.Info("generated symmetric matrix", "prime_bits", prime.BitLen(), "dimension", dimension)
	return nil
}

// PoolConfig returns the parameters of the current pool.
func (s *Service) PoolConfig() (pool.Config, error) {
	a, err := s.requirePool()
	if err != nil {
		return pool.Config{}, err
	}
	cfg := a.Config()
	cfg.Rand = nil
	return cfg, nil
}

// MatrixParameters returns the prime and dimension of the current matrix.
func (s *Service) MatrixParameters() (*big.Int, int, error) {
	a, err := s.requireMatrix()
	if err != nil {
		return nil, 0, err
	}
	return a.Prime(), a.Dimension(), nil
}

func (s *Service) poolAuthority() *pool.Authority {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool
}

func (s *Service) matrixAuthority() *matrix.Authority {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matrix
}

func (s *Service) requirePool() (*pool.Authority, error) {
	a := s.poolAuthority()
	if a == nil {
		return nil, fmt.Errorf("%w: initialize the pool first", types.ErrEmptyPool)
	}
	return a, nil
}

func (s *Service) requireMatrix() (*matrix.Authority, error) {
	a := s.matrixAuthority()
	if a == nil {
		return nil, fmt.Errorf("%w: initialize the matrix first", types.ErrUninitializedMatrix)
	}
	return a, nil
}

func (s *Service) publishPoolGauges(a *pool.Authority) {
	metrics.SetPoolKeys(a.Pool.Size())
	metrics.SetUsers(types.SchemePool.String(), a.Registry.Len())
}
