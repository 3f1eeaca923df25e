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

// Package pool implements random key pool predistribution.
//
// A trusted authority generates a pool of random symmetric keys and hands
// every registered user a random subset (key ring) of the pool. Two users
// derive a shared secret by hashing the raw values of the keys they both
// hold, in ascending key id order, with SHA-256. Neither party contacts the
// other: both compute the same intersection from their own key rings.
//
//	authority, err := pool.NewAuthority(&pool.Config{PoolSize: 100, KeysPerUser: 10})
//	if err != nil {
//	    return err
//	}
//	_, _ = authority.Registry.Register("alice")
//	_, _ = authority.Registry.Register("bob")
//	secret, ok, err := authority.Deriver.Derive("alice", "bob")
package pool

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/jeremyhahn/go-keypredist/pkg/crypto/rand"
	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

// KeySize is the size of a pool key value in bytes (128 bits).
const KeySize = 16

// Key is a single entry of the key pool.
type Key struct {
	ID    int
	Value [KeySize]byte
}

// Hex returns the key value as a lowercase hex string.
func (k Key) Hex() string {
	return hex.EncodeToString(k.Value[:])
}

// KeyPool owns the authority's pool of random keys.
// It is safe for concurrent use.
type KeyPool struct {
	mu        sync.RWMutex
	rng       io.Reader
	keys      map[int]Key
	ids       []int // sorted ascending
	generated bool
}

// NewKeyPool creates an empty key pool drawing randomness from rng.
// A nil rng selects the default crypto/rand resolver.
func NewKeyPool(rng io.Reader) *KeyPool {
	if rng == nil {
		rng = rand.Default()
	}
	return &KeyPool{
		rng:  rng,
		keys: make(map[int]Key),
	}
}

// Generate replaces the pool with poolSize freshly drawn keys with ids
// [0, poolSize). A pool size of zero produces a generated but empty pool.
func (p *KeyPool) Generate(poolSize int) error {
	if poolSize < 0 {
		return fmt.Errorf("%w: pool size must not be negative, got %d", types.ErrInvalidParameters, poolSize)
	}

	keys := make(map[int]Key, poolSize)
	ids := make([]int, poolSize)
	for id := 0; id < poolSize; id++ {
		key := Key{ID: id}
		if _, err := io.ReadFull(p.rng, key.Value[:]); err != nil {
			return fmt.Errorf("failed to generate key %d: %w", id, err)
		}
		keys[id] = key
		ids[id] = id
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.keys = keys
	p.ids = ids
	p.generated = true
	return nil
}

// Get returns the key with the given id.
func (p *KeyPool) Get(id int) (Key, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	key, ok := p.keys[id]
	if !ok {
		return Key{}, fmt.Errorf("%w: key %d", types.ErrNotFound, id)
	}
	return key, nil
}

// All returns a copy of the id to key mapping.
func (p *KeyPool) All() map[int]Key {
	p.mu.RLock()
	defer p.mu.RUnlock()

	all := make(map[int]Key, len(p.keys))
	for id, key := range p.keys {
		all[id] = key
	}
	return all
}

// IDs returns the key ids of the pool in ascending order.
func (p *KeyPool) IDs() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]int, len(p.ids))
	copy(ids, p.ids)
	return ids
}

// Size returns the number of keys in the pool.
func (p *KeyPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys)
}

// Generated reports whether the pool has been generated or installed.
func (p *KeyPool) Generated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generated
}

// material concatenates the raw values of ids in the order given.
// The caller must hold p.mu.
func (p *KeyPool) material(ids []int) ([]byte, error) {
	buf := make([]byte, 0, len(ids)*KeySize)
	for _, id := range ids {
		key, ok := p.keys[id]
		if !ok {
			return nil, fmt.Errorf("%w: key %d", types.ErrNotFound, id)
		}
		buf = append(buf, key.Value[:]...)
	}
	return buf, nil
}

// install swaps in a new key set. The caller must hold p.mu for writing.
func (p *KeyPool) install(keys map[int]Key) {
	ids := make([]int, 0, len(keys))
	for id := range keys {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	p.keys = keys
	p.ids = ids
	p.generated = true
}
