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

package matrix

import (
	"fmt"
	"io"
	"math/big"
	"sort"
	"sync"

	"github.com/jeremyhahn/go-keypredist/pkg/crypto/rand"
	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

// User is a registered party with its secret and public vectors.
type User struct {
	ID     string
	Secret []*big.Int
	Public []*big.Int
}

func (u User) clone() User {
	return User{
		ID:     u.ID,
		Secret: copyVector(u.Secret),
		Public: copyVector(u.Public),
	}
}

// Registry assigns secret vectors to users and stores their public vectors.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	matrix *Matrix
	rng    io.Reader
	users  map[string]User
}

// NewRegistry creates a registry over m. A nil rng selects the default
// crypto/rand resolver.
func NewRegistry(m *Matrix, rng io.Reader) (*Registry, error) {
	if m == nil {
		return nil, types.ErrUninitializedMatrix
	}
	if rng == nil {
		rng = rand.Default()
	}
	return &Registry{
		matrix: m,
		rng:    rng,
		users:  make(map[string]User),
	}, nil
}

// Matrix returns the matrix users are currently registered against.
func (r *Registry) Matrix() *Matrix {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.matrix
}

// Register draws a secret vector for userID and stores it with its public
// vector. Registering an existing user returns the stored vectors unchanged.
func (r *Registry) Register(userID string) (User, error) {
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id cannot be empty", types.ErrInvalidParameters)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if user, ok := r.users[userID]; ok {
		return user.clone(), nil
	}

	secret := make([]*big.Int, r.matrix.dimension)
	for k := range secret {
		v, err := rand.Int(r.rng, r.matrix.prime)
		if err != nil {
			return User{}, fmt.Errorf("failed to draw secret vector for %q: %w", userID, err)
		}
		secret[k] = v
	}

	return r.store(userID, secret)
}

// store computes the public vector and inserts the user. The caller must
// hold r.mu for writing.
func (r *Registry) store(userID string, secret []*big.Int) (User, error) {
	public, err := r.matrix.Multiply(secret)
	if err != nil {
		return User{}, err
	}
	user := User{ID: userID, Secret: secret, Public: public}
	r.users[userID] = user
	return user.clone(), nil
}

// Get returns the vectors of userID.
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

// ReplaceState atomically installs a persisted matrix and user map.
//
// Vectors must have exactly m.Dimension() entries in [0, p) and user ids
// must be non-empty and unique. Public vectors are installed as given.
func (r *Registry) ReplaceState(m *Matrix, users []User) error {
	if m == nil {
		return types.ErrUninitializedMatrix
	}

	userMap := make(map[string]User, len(users))
	for _, user := range users {
		if user.ID == "" {
			return fmt.Errorf("%w: empty user id", types.ErrInvalidState)
		}
		if _, dup := userMap[user.ID]; dup {
			return fmt.Errorf("%w: duplicate user %q", types.ErrInvalidState, user.ID)
		}
		if err := checkVector(user.Secret, m); err != nil {
			return fmt.Errorf("%w: user %q secret vector: %v", types.ErrInvalidState, user.ID, err)
		}
		if err := checkVector(user.Public, m); err != nil {
			return fmt.Errorf("%w: user %q public vector: %v", types.ErrInvalidState, user.ID, err)
		}
		userMap[user.ID] = user.clone()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.matrix = m
	r.users = userMap
	return nil
}

func checkVector(v []*big.Int, m *Matrix) error {
	if len(v) != m.dimension {
		return fmt.Errorf("has %d entries, expected %d", len(v), m.dimension)
	}
	for k, x := range v {
		if !inField(x, m.prime) {
			return fmt.Errorf("entry %d outside [0, p)", k)
		}
	}
	return nil
}
