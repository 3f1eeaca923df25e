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

package provisioning

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strconv"

	"github.com/jeremyhahn/go-keypredist/pkg/matrix"
	"github.com/jeremyhahn/go-keypredist/pkg/pool"
	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

// PoolDocument is the persisted form of a key pool authority.
type PoolDocument struct {
	Config PoolConfig             `json:"config" yaml:"config"`
	Keys   map[string]KeyEntry    `json:"keys" yaml:"keys"`
	Users  map[string]PoolUserDoc `json:"users" yaml:"users"`
}

// PoolConfig records the parameters the pool was generated with.
type PoolConfig struct {
	PoolSize    int `json:"pool_size" yaml:"pool_size"`
	KeysPerUser int `json:"keys_per_user" yaml:"keys_per_user"`
}

// KeyEntry is one pool key. Value is lowercase hex.
type KeyEntry struct {
	KeyID int    `json:"key_id" yaml:"key_id"`
	Value string `json:"value" yaml:"value"`
}

// PoolUserDoc is one registered pool user.
type PoolUserDoc struct {
	UserID string `json:"user_id" yaml:"user_id"`
	KeyIDs []int  `json:"key_ids" yaml:"key_ids"`
}

// MatrixDocument is the persisted form of a matrix authority. Integers are
// decimal strings so primes of any size survive JSON.
type MatrixDocument struct {
	Config MatrixConfig             `json:"config" yaml:"config"`
	Matrix [][]string               `json:"matrix" yaml:"matrix"`
	Users  map[string]MatrixUserDoc `json:"users" yaml:"users"`
}

// MatrixConfig records the field prime and dimension.
type MatrixConfig struct {
	Prime     string `json:"prime" yaml:"prime"`
	Dimension int    `json:"dimension" yaml:"dimension"`
}

// MatrixUserDoc is one registered matrix user.
type MatrixUserDoc struct {
	UserID       string   `json:"user_id" yaml:"user_id"`
	SecretVector []string `json:"secret_vector" yaml:"secret_vector"`
	PublicVector []string `json:"public_vector" yaml:"public_vector"`
}

// NewPoolDocument snapshots a pool authority.
func NewPoolDocument(a *pool.Authority) *PoolDocument {
	cfg := a.Config()
	doc := &PoolDocument{
		Config: PoolConfig{PoolSize: cfg.PoolSize, KeysPerUser: cfg.KeysPerUser},
		Keys:   make(map[string]KeyEntry),
		Users:  make(map[string]PoolUserDoc),
	}
	for id, key := range a.Pool.All() {
		doc.Keys[strconv.Itoa(id)] = KeyEntry{KeyID: id, Value: key.Hex()}
	}
	for id, user := range a.Registry.All() {
		doc.Users[id] = PoolUserDoc{UserID: id, KeyIDs: user.KeyIDs}
	}
	return doc
}

// Decode validates the document and converts it into pool state.
func (d *PoolDocument) Decode() (*pool.Config, []pool.Key, []pool.User, error) {
	cfg := &pool.Config{PoolSize: d.Config.PoolSize, KeysPerUser: d.Config.KeysPerUser}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, invalidState("config: %v", err)
	}
	if len(d.Keys) != cfg.PoolSize {
		return nil, nil, nil, invalidState("config pool_size is %d but %d keys are present", cfg.PoolSize, len(d.Keys))
	}

	keys := make([]pool.Key, 0, len(d.Keys))
	for name, entry := range d.Keys {
		id, err := strconv.Atoi(name)
		if err != nil {
			return nil, nil, nil, invalidState("key id %q is not an integer", name)
		}
		if id != entry.KeyID {
			return nil, nil, nil, invalidState("key %q carries key_id %d", name, entry.KeyID)
		}
		if id < 0 || id >= cfg.PoolSize {
			return nil, nil, nil, invalidState("key id %d outside [0, %d)", id, cfg.PoolSize)
		}
		raw, err := hex.DecodeString(entry.Value)
		if err != nil || len(raw) != pool.KeySize {
			return nil, nil, nil, invalidState("key %d value is not %d hex-encoded bytes", id, pool.KeySize)
		}
		key := pool.Key{ID: id}
		copy(key.Value[:], raw)
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })

	users := make([]pool.User, 0, len(d.Users))
	for name, entry := range d.Users {
		if entry.UserID != name {
			return nil, nil, nil, invalidState("user %q carries user_id %q", name, entry.UserID)
		}
		users = append(users, pool.User{ID: name, KeyIDs: entry.KeyIDs})
	}
	return cfg, keys, users, nil
}

// NewMatrixDocument snapshots a matrix authority.
func NewMatrixDocument(a *matrix.Authority) *MatrixDocument {
	m := a.Matrix()
	doc := &MatrixDocument{
		Config: MatrixConfig{Prime: m.Prime().String(), Dimension: m.Dimension()},
		Matrix: make([][]string, m.Dimension()),
		Users:  make(map[string]MatrixUserDoc),
	}
	for i, row := range m.Entries() {
		doc.Matrix[i] = encodeVector(row)
	}
	for id, user := range a.Registry.All() {
		doc.Users[id] = MatrixUserDoc{
			UserID:       id,
			SecretVector: encodeVector(user.Secret),
			PublicVector: encodeVector(user.Public),
		}
	}
	return doc
}

// Decode validates the document and converts it into matrix state.
func (d *MatrixDocument) Decode() (*matrix.Matrix, []matrix.User, error) {
	prime, ok := new(big.Int).SetString(d.Config.Prime, 10)
	if !ok {
		return nil, nil, invalidState("prime %q is not a decimal integer", d.Config.Prime)
	}
	if err := (&matrix.Config{Prime: prime, Dimension: d.Config.Dimension}).Validate(); err != nil {
		return nil, nil, invalidState("config: %v", err)
	}
	if len(d.Matrix) != d.Config.Dimension {
		return nil, nil, invalidState("config dimension is %d but matrix has %d rows", d.Config.Dimension, len(d.Matrix))
	}

	entries := make([][]*big.Int, len(d.Matrix))
	for i, row := range d.Matrix {
		decoded, err := decodeVector(row)
		if err != nil {
			return nil, nil, invalidState("matrix row %d: %v", i, err)
		}
		entries[i] = decoded
	}
	m, err := matrix.New(prime, entries)
	if err != nil {
		return nil, nil, invalidState("matrix: %v", err)
	}

	users := make([]matrix.User, 0, len(d.Users))
	for name, entry := range d.Users {
		if entry.UserID != name {
			return nil, nil, invalidState("user %q carries user_id %q", name, entry.UserID)
		}
		secret, err := decodeVector(entry.SecretVector)
		if err != nil {
			return nil, nil, invalidState("user %q secret vector: %v", name, err)
		}
		public, err := decodeVector(entry.PublicVector)
		if err != nil {
			return nil, nil, invalidState("user %q public vector: %v", name, err)
		}
		users = append(users, matrix.User{ID: name, Secret: secret, Public: public})
	}
	return m, users, nil
}

func encodeVector(v []*big.Int) []string {
	out := make([]string, len(v))
	for i, x := range v {
		out[i] = x.String()
	}
	return out
}

func decodeVector(v []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(v))
	for i, s := range v {
		x, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("entry %d (%q) is not a decimal integer", i, s)
		}
		out[i] = x
	}
	return out, nil
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrInvalidState, fmt.Sprintf(format, args...))
}
