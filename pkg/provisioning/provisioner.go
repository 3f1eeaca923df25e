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

// Package provisioning persists key pool and matrix authority state to a
// storage backend and restores it without partially mutating the target.
package provisioning

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-keypredist/pkg/matrix"
	"github.com/jeremyhahn/go-keypredist/pkg/pool"
	"github.com/jeremyhahn/go-keypredist/pkg/storage"
	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

const (
	// DefaultPoolKey is the storage key of the pool state document.
	DefaultPoolKey = "kps_state.json"

	// DefaultMatrixKey is the storage key of the matrix state document.
	DefaultMatrixKey = "kps_matrix_state.json"
)

// Provisioner saves and loads authority state through a storage.Backend.
// The codec is chosen from each key's extension.
type Provisioner struct {
	backend storage.Backend
	opts    *storage.Options
}

// New creates a provisioner over backend. A nil opts uses
// storage.DefaultOptions.
func New(backend storage.Backend, opts *storage.Options) (*Provisioner, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: storage backend is required", types.ErrInvalidParameters)
	}
	if opts == nil {
		opts = storage.DefaultOptions()
	}
	return &Provisioner{backend: backend, opts: opts}, nil
}

// Backend returns the underlying storage backend.
func (p *Provisioner) Backend() storage.Backend {
	return p.backend
}

// Exists reports whether a state document is stored under key.
func (p *Provisioner) Exists(key string) (bool, error) {
	return p.backend.Exists(key)
}

// SavePool writes the pool config, every key and every user ring under key.
func (p *Provisioner) SavePool(key string, a *pool.Authority) error {
	if a == nil {
		return fmt.Errorf("%w: pool authority is required", types.ErrInvalidParameters)
	}
	return p.write(key, NewPoolDocument(a))
}

// ReadPool reads and validates the pool document stored under key.
func (p *Provisioner) ReadPool(key string) (*PoolDocument, error) {
	var doc PoolDocument
	if err := p.read(key, &doc); err != nil {
		return nil, err
	}
	if _, _, _, err := doc.Decode(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadPool builds a new pool authority from the document stored under key.
// rng seeds registrations made after the load.
func (p *Provisioner) LoadPool(key string, rng io.Reader) (*pool.Authority, error) {
	var doc PoolDocument
	if err := p.read(key, &doc); err != nil {
		return nil, err
	}
	cfg, keys, users, err := doc.Decode()
	if err != nil {
		return nil, err
	}

	registry, err := pool.NewRegistry(pool.NewKeyPool(rng), cfg.KeysPerUser, rng)
	if err != nil {
		return nil, err
	}
	if err := registry.ReplaceState(keys, users); err != nil {
		return nil, err
	}
	cfg.Rand = rng
	return pool.NewAuthorityFromRegistry(registry, *cfg)
}

// RestorePool replaces the state of an existing authority with the document
// stored under key. The document's config must match the authority's.
func (p *Provisioner) RestorePool(key string, a *pool.Authority) error {
	if a == nil {
		return fmt.Errorf("%w: pool authority is required", types.ErrInvalidParameters)
	}
	var doc PoolDocument
	if err := p.read(key, &doc); err != nil {
		return err
	}
	cfg, keys, users, err := doc.Decode()
	if err != nil {
		return err
	}
	current := a.Config()
	if cfg.PoolSize != current.PoolSize || cfg.KeysPerUser != current.KeysPerUser {
		return invalidState("stored config %d/%d does not match authority %d/%d",
			cfg.PoolSize, cfg.KeysPerUser, current.PoolSize, current.KeysPerUser)
	}
	return a.Registry.ReplaceState(keys, users)
}

// SaveMatrix writes the prime, dimension, matrix and every user's vectors
// under key.
func (p *Provisioner) SaveMatrix(key string, a *matrix.Authority) error {
	if a == nil {
		return fmt.Errorf("%w: matrix authority is required", types.ErrInvalidParameters)
	}
	return p.write(key, NewMatrixDocument(a))
}

// LoadMatrix builds a new matrix authority from the document stored under
// key. rng seeds registrations made after the load.
func (p *Provisioner) LoadMatrix(key string, rng io.Reader) (*matrix.Authority, error) {
	var doc MatrixDocument
	if err := p.read(key, &doc); err != nil {
		return nil, err
	}
	m, users, err := doc.Decode()
	if err != nil {
		return nil, err
	}
	a, err := matrix.NewAuthorityFromMatrix(m, rng)
	if err != nil {
		return nil, err
	}
	if err := a.Registry.ReplaceState(m, users); err != nil {
		return nil, err
	}
	return a, nil
}

// RestoreMatrix replaces the matrix and users of an existing authority with
// the document stored under key. Prime and dimension must match.
func (p *Provisioner) RestoreMatrix(key string, a *matrix.Authority) error {
	if a == nil {
		return fmt.Errorf("%w: matrix authority is required", types.ErrInvalidParameters)
	}
	var doc MatrixDocument
	if err := p.read(key, &doc); err != nil {
		return err
	}
	m, users, err := doc.Decode()
	if err != nil {
		return err
	}
	if m.Prime().Cmp(a.Prime()) != 0 || m.Dimension() != a.Dimension() {
		return invalidState("stored prime %s dimension %d does not match authority prime %s dimension %d",
			m.Prime(), m.Dimension(), a.Prime(), a.Dimension())
	}
	return a.Registry.ReplaceState(m, users)
}

func (p *Provisioner) write(key string, doc any) error {
	codec, err := CodecFor(FormatFromKey(key))
	if err != nil {
		return err
	}
	data, err := codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := p.backend.Put(key, data, p.opts); err != nil {
		return fmt.Errorf("failed to write state %q: %w", key, err)
	}
	return nil
}

func (p *Provisioner) read(key string, doc any) error {
	data, err := p.backend.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: no state stored at %q", storage.ErrNotFound, key)
		}
		return fmt.Errorf("failed to read state %q: %w", key, err)
	}
	codec, err := CodecFor(FormatFromKey(key))
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(data, doc); err != nil {
		return invalidState("malformed %s document %q: %v", codec.Format(), key, err)
	}
	return nil
}
