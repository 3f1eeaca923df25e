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

package pool

import (
	"fmt"
	"io"

	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

// Config holds the parameters of a key pool authority.
type Config struct {
	// PoolSize is the number of keys in the pool.
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// KeysPerUser is the number of keys assigned to each user.
	KeysPerUser int `yaml:"keys_per_user" json:"keys_per_user"`

	// Rand overrides the randomness source. Defaults to crypto/rand.
	Rand io.Reader `yaml:"-" json:"-"`
}

// Validate checks the pool parameters.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: pool config is required", types.ErrInvalidParameters)
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("%w: pool size must not be negative", types.ErrInvalidParameters)
	}
	if c.KeysPerUser < 0 {
		return fmt.Errorf("%w: keys per user must not be negative", types.ErrInvalidParameters)
	}
	if c.KeysPerUser > c.PoolSize {
		return fmt.Errorf("%w: keys per user (%d) exceeds pool size (%d)",
			types.ErrInvalidParameters, c.KeysPerUser, c.PoolSize)
	}
	return nil
}

// Authority bundles a generated key pool with its registry and deriver.
type Authority struct {
	Pool     *KeyPool
	Registry *Registry
	Deriver  *Deriver

	config Config
}

// NewAuthority validates cfg, generates the key pool and returns a ready
// authority with no registered users.
func NewAuthority(cfg *Config) (*Authority, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	keyPool := NewKeyPool(cfg.Rand)
	if err := keyPool.Generate(cfg.PoolSize); err != nil {
		return nil, err
	}

	registry, err := NewRegistry(keyPool, cfg.KeysPerUser, cfg.Rand)
	if err != nil {
		return nil, err
	}

	return &Authority{
		Pool:     keyPool,
		Registry: registry,
		Deriver:  NewDeriver(registry),
		config:   *cfg,
	}, nil
}

// Config returns the parameters the authority was created with.
func (a *Authority) Config() Config {
	return a.config
}

// NewAuthorityFromRegistry wraps a registry whose pool was populated through
// ReplaceState. cfg records the parameters the state was generated with.
func NewAuthorityFromRegistry(registry *Registry, cfg Config) (*Authority, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: registry is required", types.ErrInvalidParameters)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry.KeysPerUser() != cfg.KeysPerUser {
		return nil, fmt.Errorf("%w: registry assigns %d keys per user, config %d",
			types.ErrInvalidParameters, registry.KeysPerUser(), cfg.KeysPerUser)
	}
	return &Authority{
		Pool:     registry.Pool(),
		Registry: registry,
		Deriver:  NewDeriver(registry),
		config:   cfg,
	}, nil
}
