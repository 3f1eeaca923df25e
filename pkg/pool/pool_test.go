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
	"bytes"
	"crypto/sha256"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

func newTestAuthority(t *testing.T, poolSize, keysPerUser int) *Authority {
	t.Helper()
	a, err := NewAuthority(&Config{PoolSize: poolSize, KeysPerUser: keysPerUser})
	require.NoError(t, err)
	return a
}

func TestKeyPool_Generate(t *testing.T) {
	p := NewKeyPool(nil)
	assert.False(t, p.Generated())

	require.NoError(t, p.Generate(20))
	assert.True(t, p.Generated())
	assert.Equal(t, 20, p.Size())

	all := p.All()
	require.Len(t, all, 20)
	for id := 0; id < 20; id++ {
		key, ok := all[id]
		require.True(t, ok, "missing key %d", id)
		assert.Equal(t, id, key.ID)
		assert.Len(t, key.Hex(), KeySize*2)
	}

	ids := p.IDs()
	for i, id := range ids {
		assert.Equal(t, i, id)
	}
}

func TestKeyPool_GenerateReplaces(t *testing.T) {
	p := NewKeyPool(nil)
	require.NoError(t, p.Generate(10))
	first, err := p.Get(0)
	require.NoError(t, err)

	require.NoError(t, p.Generate(3))
	assert.Equal(t, 3, p.Size())

	second, err := p.Get(0)
	require.NoError(t, err)
	assert.NotEqual(t, first.Value, second.Value)

	_, err = p.Get(5)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestKeyPool_GenerateErrors(t *testing.T) {
	p := NewKeyPool(nil)
	assert.ErrorIs(t, p.Generate(-1), types.ErrInvalidParameters)

	failing := NewKeyPool(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, failing.Generate(1))
	assert.False(t, failing.Generated())
}

func TestKeyPool_GenerateZero(t *testing.T) {
	p := NewKeyPool(nil)
	require.NoError(t, p.Generate(0))
	assert.True(t, p.Generated())
	assert.Equal(t, 0, p.Size())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"valid", &Config{PoolSize: 100, KeysPerUser: 10}, false},
		{"equal", &Config{PoolSize: 5, KeysPerUser: 5}, false},
		{"degenerate", &Config{PoolSize: 0, KeysPerUser: 0}, false},
		{"keys per user exceeds pool", &Config{PoolSize: 5, KeysPerUser: 6}, true},
		{"negative pool", &Config{PoolSize: -1, KeysPerUser: 0}, true},
		{"negative keys per user", &Config{PoolSize: 5, KeysPerUser: -1}, true},
		{"nil", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrInvalidParameters)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewAuthority_InvalidParameters(t *testing.T) {
	_, err := NewAuthority(&Config{PoolSize: 3, KeysPerUser: 4})
	assert.ErrorIs(t, err, types.ErrInvalidParameters)
}

func TestRegistry_RegisterAssignsDistinctKeys(t *testing.T) {
	a := newTestAuthority(t, 50, 10)

	for i := 0; i < 25; i++ {
		user, err := a.Registry.Register(fmt.Sprintf("user-%d", i))
		require.NoError(t, err)
		require.Len(t, user.KeyIDs, 10)

		seen := make(map[int]bool)
		for j, id := range user.KeyIDs {
			assert.True(t, id >= 0 && id < 50, "key id %d out of range", id)
			assert.False(t, seen[id], "duplicate key id %d", id)
			seen[id] = true
			if j > 0 {
				assert.Less(t, user.KeyIDs[j-1], id, "key ring must be ascending")
			}
			assert.True(t, user.Has(id))
		}
	}
	assert.Equal(t, 25, a.Registry.Len())
}

func TestRegistry_RegisterIdempotent(t *testing.T) {
	a := newTestAuthority(t, 100, 10)

	first, err := a.Registry.Register("alice")
	require.NoError(t, err)
	second, err := a.Registry.Register("alice")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, a.Registry.Len())
}

func TestRegistry_RegisterReturnsCopy(t *testing.T) {
	a := newTestAuthority(t, 10, 3)

	user, err := a.Registry.Register("alice")
	require.NoError(t, err)
	user.KeyIDs[0] = 99

	stored, err := a.Registry.Get("alice")
	require.NoError(t, err)
	assert.NotEqual(t, 99, stored.KeyIDs[0])
}

func TestRegistry_RegisterErrors(t *testing.T) {
	t.Run("empty pool", func(t *testing.T) {
		r, err := NewRegistry(NewKeyPool(nil), 1, nil)
		require.NoError(t, err)
		_, err = r.Register("alice")
		assert.ErrorIs(t, err, types.ErrEmptyPool)
	})

	t.Run("insufficient pool", func(t *testing.T) {
		p := NewKeyPool(nil)
		require.NoError(t, p.Generate(3))
		r, err := NewRegistry(p, 4, nil)
		require.NoError(t, err)

		_, err = r.Register("alice")
		assert.ErrorIs(t, err, types.ErrInsufficientPool)
		assert.ErrorIs(t, err, types.ErrInvalidParameters)
		assert.Equal(t, 0, r.Len())
	})

	t.Run("empty user id", func(t *testing.T) {
		a := newTestAuthority(t, 10, 2)
		_, err := a.Registry.Register("")
		assert.ErrorIs(t, err, types.ErrInvalidParameters)
	})

	t.Run("negative keys per user", func(t *testing.T) {
		_, err := NewRegistry(NewKeyPool(nil), -1, nil)
		assert.ErrorIs(t, err, types.ErrInvalidParameters)
	})

	t.Run("nil pool", func(t *testing.T) {
		_, err := NewRegistry(nil, 1, nil)
		assert.ErrorIs(t, err, types.ErrInvalidParameters)
	})
}

func TestRegistry_Get(t *testing.T) {
	a := newTestAuthority(t, 10, 2)
	_, err := a.Registry.Get("nobody")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = a.Registry.Register("bob")
	require.NoError(t, err)
	_, err = a.Registry.Register("alice")
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "bob"}, a.Registry.UserIDs())
	assert.Len(t, a.Registry.All(), 2)
}

func TestRegistry_ConcurrentRegisterSameUser(t *testing.T) {
	a := newTestAuthority(t, 200, 20)

	const workers = 16
	results := make([]User, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user, err := a.Registry.Register("shared")
			assert.NoError(t, err)
			results[i] = user
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, 1, a.Registry.Len())
}

func TestDeriver_FullPoolAlwaysShares(t *testing.T) {
	a := newTestAuthority(t, 8, 8)
	_, err := a.Registry.Register("alice")
	require.NoError(t, err)
	_, err = a.Registry.Register("bob")
	require.NoError(t, err)

	common, err := a.Deriver.CommonKeyIDs("alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, common)

	secret, ok, err := a.Deriver.Derive("alice", "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, secret.Hex(), 64)
	assert.Len(t, secret.Bytes(), 32)
}

func TestDeriver_DeriveMatchesManualRecomputation(t *testing.T) {
	a := newTestAuthority(t, 30, 12)
	users := []string{"alice", "bob", "carol", "dave"}
	for _, u := range users {
		_, err := a.Registry.Register(u)
		require.NoError(t, err)
	}

	for _, x := range users {
		for _, y := range users {
			if x == y {
				continue
			}
			ux, err := a.Registry.Get(x)
			require.NoError(t, err)
			uy, err := a.Registry.Get(y)
			require.NoError(t, err)

			var material []byte
			for _, id := range ux.KeyIDs {
				if uy.Has(id) {
					key, err := a.Pool.Get(id)
					require.NoError(t, err)
					material = append(material, key.Value[:]...)
				}
			}

			secret, ok, err := a.Deriver.Derive(x, y)
			require.NoError(t, err)
			if len(material) == 0 {
				assert.False(t, ok)
				continue
			}
			require.True(t, ok)
			assert.Equal(t, sha256.Sum256(material), [32]byte(secret))

			again, _, err := a.Deriver.Derive(x, y)
			require.NoError(t, err)
			assert.Equal(t, secret, again, "derivation must be deterministic")

			reverse, _, err := a.Deriver.Derive(y, x)
			require.NoError(t, err)
			assert.Equal(t, secret, reverse, "derivation must be symmetric")
		}
	}
}

func TestDeriver_NoIntersection(t *testing.T) {
	a := newTestAuthority(t, 4, 2)

	keys := make([]Key, 0, 4)
	for id := 0; id < 4; id++ {
		key, err := a.Pool.Get(id)
		require.NoError(t, err)
		keys = append(keys, key)
	}
	require.NoError(t, a.Registry.ReplaceState(keys, []User{
		{ID: "alice", KeyIDs: []int{0, 1}},
		{ID: "bob", KeyIDs: []int{2, 3}},
	}))

	common, err := a.Deriver.CommonKeyIDs("alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, common)

	secret, ok, err := a.Deriver.Derive("alice", "bob")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, SharedSecret{}, secret)
	assert.NotEqual(t, sha256.Sum256(nil), [32]byte(secret))
}

func TestDeriver_UnknownUser(t *testing.T) {
	a := newTestAuthority(t, 10, 3)
	_, err := a.Registry.Register("alice")
	require.NoError(t, err)

	_, err = a.Deriver.CommonKeyIDs("alice", "mallory")
	assert.ErrorIs(t, err, types.ErrUnknownUser)

	_, _, err = a.Deriver.Derive("mallory", "alice")
	assert.ErrorIs(t, err, types.ErrUnknownUser)
}

func TestRegistry_ReplaceStateRoundTrip(t *testing.T) {
	original := newTestAuthority(t, 40, 15)
	users := []string{"alice", "bob", "carol"}
	for _, u := range users {
		_, err := original.Registry.Register(u)
		require.NoError(t, err)
	}

	type pair struct{ a, b string }
	before := make(map[pair]SharedSecret)
	for _, x := range users {
		for _, y := range users {
			secret, ok, err := original.Deriver.Derive(x, y)
			require.NoError(t, err)
			if ok {
				before[pair{x, y}] = secret
			}
		}
	}

	keys := make([]Key, 0)
	for _, key := range original.Pool.All() {
		keys = append(keys, key)
	}
	persisted := make([]User, 0)
	for _, u := range original.Registry.All() {
		persisted = append(persisted, u)
	}

	restored := newTestAuthority(t, 40, 15)
	require.NoError(t, restored.Registry.ReplaceState(keys, persisted))

	assert.Equal(t, original.Pool.All(), restored.Pool.All())
	assert.Equal(t, original.Registry.All(), restored.Registry.All())

	for p, secret := range before {
		got, ok, err := restored.Deriver.Derive(p.a, p.b)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, secret, got)
	}
}

func TestRegistry_ReplaceStateRejectsBadShape(t *testing.T) {
	a := newTestAuthority(t, 5, 2)
	_, err := a.Registry.Register("alice")
	require.NoError(t, err)
	snapshot := a.Registry.All()
	poolSnapshot := a.Pool.All()

	tests := []struct {
		name  string
		keys  []Key
		users []User
	}{
		{"negative key id", []Key{{ID: -1}}, nil},
		{"duplicate key id", []Key{{ID: 1}, {ID: 1}}, nil},
		{"empty user id", []Key{{ID: 0}}, []User{{ID: "", KeyIDs: []int{0}}}},
		{"duplicate user", []Key{{ID: 0}}, []User{{ID: "a"}, {ID: "a"}}},
		{"negative ring id", []Key{{ID: 0}}, []User{{ID: "a", KeyIDs: []int{-2}}}},
		{"dangling ring id", []Key{{ID: 0}}, []User{{ID: "a", KeyIDs: []int{7}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Registry.ReplaceState(tt.keys, tt.users)
			assert.ErrorIs(t, err, types.ErrInvalidState)
			assert.Equal(t, snapshot, a.Registry.All(), "failed replace must not mutate users")
			assert.Equal(t, poolSnapshot, a.Pool.All(), "failed replace must not mutate pool")
		})
	}
}

func TestRegistry_ReplaceStateNormalizesRings(t *testing.T) {
	a := newTestAuthority(t, 5, 2)
	keys := []Key{{ID: 0}, {ID: 1}, {ID: 2}}
	require.NoError(t, a.Registry.ReplaceState(keys, []User{{ID: "a", KeyIDs: []int{2, 0, 2}}}))

	user, err := a.Registry.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, user.KeyIDs)
	assert.Equal(t, 3, a.Pool.Size())
}

func TestIntersect(t *testing.T) {
	assert.Equal(t, []int{2, 5}, intersect([]int{1, 2, 5, 9}, []int{2, 3, 5}))
	assert.Empty(t, intersect(nil, []int{1}))
	assert.Empty(t, intersect([]int{1, 3}, []int{2, 4}))
}

func TestNewAuthorityFromRegistry(t *testing.T) {
	source := newTestAuthority(t, 6, 3)
	_, err := source.Registry.Register("alice")
	require.NoError(t, err)

	keys := make([]Key, 0)
	for _, key := range source.Pool.All() {
		keys = append(keys, key)
	}
	alice, err := source.Registry.Get("alice")
	require.NoError(t, err)

	registry, err := NewRegistry(NewKeyPool(nil), 3, nil)
	require.NoError(t, err)
	require.NoError(t, registry.ReplaceState(keys, []User{alice}))

	a, err := NewAuthorityFromRegistry(registry, Config{PoolSize: 6, KeysPerUser: 3})
	require.NoError(t, err)
	assert.True(t, a.Pool.Generated())
	assert.Equal(t, 6, a.Pool.Size())

	_, err = a.Registry.Register("bob")
	require.NoError(t, err)
	_, _, err = a.Deriver.Derive("alice", "bob")
	require.NoError(t, err)

	_, err = NewAuthorityFromRegistry(registry, Config{PoolSize: 6, KeysPerUser: 2})
	assert.ErrorIs(t, err, types.ErrInvalidParameters)

	_, err = NewAuthorityFromRegistry(nil, Config{})
	assert.ErrorIs(t, err, types.ErrInvalidParameters)
}
