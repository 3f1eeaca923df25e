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
	"sort"
	"sync"

	"github.com/jeremyhahn/go-keypredist/pkg/crypto/rand"
	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

// User is a registered party and its key ring.
type User struct {
	ID string

	// KeyIDs holds the distinct key ids assigned to the user, ascending.
	KeyIDs []int
}

// Has reports whether the key ring contains id.
func (u User) Has(id int) bool {
	i := sort.SearchInts(u.KeyIDs, id)
	return i < len(u.KeyIDs) && u.KeyIDs[i] == id
}

func (u User) clone() User {
	ids := make([]int, len(u.KeyIDs))
	copy(ids, u.KeyIDs)
	return User{ID: u.ID, KeyIDs: ids}
}

// Registry assigns key rings from a KeyPool to users.
//
// Lock order is always Registry.mu before KeyPool.mu, which keeps pool
// generation mutually exclusive with registration and derivation.
type Registry struct {
	mu          sync.RWMutex
	pool        *KeyPool
	keysPerUser int
	rng         io.Reader
	users       map[string]User
}

// NewRegistry creates a registry that assigns keysPerUser keys from pool to
// every new user. A nil rng selects the default crypto/rand resolver.
func NewRegistry(pool *KeyPool, keysPerUser int, rng io.Reader) (*Registry, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: key pool is required", types.ErrInvalidParameters)
	}
	if keysPerUser < 0 {
		return nil, fmt.Errorf("%w: keys per user must not be negative, got %d",
			types.ErrInvalidParameters, keysPerUser)
	}
	if rng == nil {
		rng = rand.Default()
	}
	return &Registry{
		pool:        pool,
		keysPerUser: keysPerUser,
		rng:         rng,
		users:       make(map[string]User),
	}, nil
}

// Pool returns the key pool the registry draws from.
func (r *Registry) Pool() *KeyPool {
	return r.pool
}

// KeysPerUser returns the key ring size assigned at registration.
func (r *Registry) KeysPerUser() int {
	return r.keysPerUser
}

// Register assigns a key ring to userID. Registering an existing user
// returns the existing key ring unchanged.
func (r *Registry) Register(userID string) (User, error) {
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id cannot be empty", types.ErrInvalidParameters)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if user, ok := r.users[userID]; ok {
		return user.clone(), nil
	}

	r.pool.mu.RLock()
	defer r.pool.mu.RUnlock()

	if !r.pool.generated {
		return User{}, types.ErrEmptyPool
	}
	if r.keysPerUser > len(r.pool.ids) {
		return User{}, fmt.Errorf("%w: need %d keys, pool has %d",
			types.ErrInsufficientPool, r.keysPerUser, len(r.pool.ids))
	}

	ids, err := rand.Sample(r.rng, r.pool.ids, r.keysPerUser)
	if err != nil {
		return User{}, fmt.Errorf("failed to assign key ring to %q: %w", userID, err)
	}
	sort.Ints(ids)

	user := User{ID: userID, KeyIDs: ids}
	r.users[userID] = user
	return user.clone(), nil
}

// Get returns the key ring of userID.
func (r *Registry) Get(userID string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[userID]
	if !ok {
		return User{}, fmt.Errorf("%w: user %q", types.ErrNotFound, userID)
	}
	return user.clone(), nil
}

// All returns a copy of every registered user keyed by id.
func (r *Registry) All() map[string]User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make(map[string]User, len(r.users))
	for id, user := range r.users {
		all[id] = user.clone()
	}
	return all
}

// UserIDs returns the registered user ids in lexical order.
func (r *Registry) UserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// ReplaceState atomically installs a previously persisted pool and user map.
//
// Only the shape of the data is checked: key ids must be non-negative and
// unique, user ids non-empty and unique, and every key ring entry must
// reference a key in keys. Either everything is installed or nothing is.
func (r *Registry) ReplaceState(keys []Key, users []User) error {
	keyMap := make(map[int]Key, len(keys))
	for _, key := range keys {
		if key.ID < 0 {
			return fmt.Errorf("%w: negative key id %d", types.ErrInvalidState, key.ID)
		}
		if _, dup := keyMap[key.ID]; dup {
			return fmt.Errorf("%w: duplicate key id %d", types.ErrInvalidState, key.ID)
		}
		keyMap[key.ID] = key
	}

	userMap := make(map[string]User, len(users))
	for _, user := range users {
		if user.ID == "" {
			return fmt.Errorf("%w: empty user id", types.ErrInvalidState)
		}
		if _, dup := userMap[user.ID]; dup {
			return fmt.Errorf("%w: duplicate user %q", types.ErrInvalidState, user.ID)
		}
		ring, err := normalizeKeyRing(user.KeyIDs)
		if err != nil {
			return fmt.Errorf("%w: user %q: %v", types.ErrInvalidState, user.ID, err)
		}
		for _, id := range ring {
			if _, ok := keyMap[id]; !ok {
				return fmt.Errorf("%w: user %q references unknown key %d",
					types.ErrInvalidState, user.ID, id)
			}
		}
		userMap[user.ID] = User{ID: user.ID, KeyIDs: ring}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pool.mu.Lock()
	defer r.pool.mu.Unlock()

	r.pool.install(keyMap)
	r.users = userMap
	return nil
}

// normalizeKeyRing returns a sorted copy of ids with duplicates removed.
func normalizeKeyRing(ids []int) ([]int, error) {
	seen := make(map[int]struct{}, len(ids))
	ring := make([]int, 0, len(ids))
	for _, id := range ids {
		if id < 0 {
			return nil, fmt.Errorf("negative key id %d", id)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ring = append(ring, id)
	}
	sort.Ints(ring)
	return ring, nil
}
