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

package keyserver

import (
	"sort"

	"github.com/jeremyhahn/go-keypredist/pkg/metrics"
	"github.com/jeremyhahn/go-keypredist/pkg/pool"
	"github.com/jeremyhahn/go-keypredist/pkg/types"
	"github.com/jeremyhahn/go-keypredist/pkg/validation"
)

// OverlapMatrix holds the number of common key ids for every pair of users.
// Counts[i][i] is the size of user i's key ring.
type OverlapMatrix struct {
	Users  []string `json:"users"`
	Counts [][]int  `json:"counts"`
}

// AssignmentMatrix records which pool keys each user holds. Assigned[i][j]
// is true when Users[i] holds KeyIDs[j].
type AssignmentMatrix struct {
	Users    []string `json:"users"`
	KeyIDs   []int    `json:"key_ids"`
	Assigned [][]bool `json:"assigned"`
}

// RegisterPoolUser assigns a key ring to userID, or returns the existing one.
func (s *Service) RegisterPoolUser(userID string) (user pool.User, err error) {
	done := metrics.Track(metrics.OpRegister, types.SchemePool.String())
	defer func() { done(err) }()

	if err = validation.ValidateUserID(userID); err != nil {
		return pool.User{}, err
	}
	a, err := s.requirePool()
	if err != nil {
		return pool.User{}, err
	}
	user, err = a.Registry.Register(userID)
	if err != nil {
		return pool.User{}, err
	}

	metrics.SetUsers(types.SchemePool.String(), a.Registry.Len())
	s.logger.Debug("registered pool user", "user", userID, "keys", len(user.KeyIDs))
	return user, nil
}

// PoolUser returns one registered pool user.
func (s *Service) PoolUser(userID string) (pool.User, error) {
	a, err := s.requirePool()
	if err != nil {
		return pool.User{}, err
	}
	return a.Registry.Get(userID)
}

// PoolUsers returns every registered pool user ordered by id.
func (s *Service) PoolUsers() ([]pool.User, error) {
	a, err := s.requirePool()
	if err != nil {
		return nil, err
	}
	all := a.Registry.All()
	users := make([]pool.User, 0, len(all))
	for _, u := range all {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// PoolKeys returns the keys of the given ids, or the whole pool when ids is
// empty, ordered by id.
func (s *Service) PoolKeys(ids ...int) ([]pool.Key, error) {
	a, err := s.requirePool()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		ids = a.Pool.IDs()
	} else {
		ids = append([]int(nil), ids...)
		sort.Ints(ids)
	}
	keys := make([]pool.Key, 0, len(ids))
	for _, id := range ids {
		key, err := a.Pool.Get(id)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// CommonKeyIDs returns the ascending ids held by both users.
func (s *Service) CommonKeyIDs(a, b string) ([]int, error) {
	if err := validation.ValidateUserPair(a, b); err != nil {
		return nil, err
	}
	auth, err := s.requirePool()
	if err != nil {
		return nil, err
	}
	return auth.Deriver.CommonKeyIDs(a, b)
}

// DeriveSecret derives the pool shared secret of a and b. ok is false when
// they hold no common keys.
func (s *Service) DeriveSecret(a, b string) (secret pool.SharedSecret, ok bool, err error) {
	done := metrics.Track(metrics.OpDerive, types.SchemePool.String())
	defer func() { done(err) }()

	if err = validation.ValidateUserPair(a, b); err != nil {
		return pool.SharedSecret{}, false, err
	}
	auth, err := s.requirePool()
	if err != nil {
		return pool.SharedSecret{}, false, err
	}
	secret, ok, err = auth.Deriver.Derive(a, b)
	if err != nil {
		return pool.SharedSecret{}, false, err
	}
	s.logger.Debug("derived pool secret", "a", a, "b", b, "shared", ok)
	return secret, ok, nil
}

// OverlapMatrix computes pairwise common-key counts over all pool users.
func (s *Service) OverlapMatrix() (*OverlapMatrix, error) {
	users, err := s.PoolUsers()
	if err != nil {
		return nil, err
	}

	m := &OverlapMatrix{
		Users:  make([]string, len(users)),
		Counts: make([][]int, len(users)),
	}
	for i, u := range users {
		m.Users[i] = u.ID
		m.Counts[i] = make([]int, len(users))
		for j, v := range users {
			m.Counts[i][j] = countCommon(u.KeyIDs, v.KeyIDs)
		}
	}
	return m, nil
}

// AssignmentMatrix reports key membership for every user over the whole
// pool.
func (s *Service) AssignmentMatrix() (*AssignmentMatrix, error) {
	a, err := s.requirePool()
	if err != nil {
		return nil, err
	}
	users, err := s.PoolUsers()
	if err != nil {
		return nil, err
	}

	ids := a.Pool.IDs()
	column := make(map[int]int, len(ids))
	for j, id := range ids {
		column[id] = j
	}

	m := &AssignmentMatrix{
		Users:    make([]string, len(users)),
		KeyIDs:   ids,
		Assigned: make([][]bool, len(users)),
	}
	for i, u := range users {
		m.Users[i] = u.ID
		m.Assigned[i] = make([]bool, len(ids))
		for _, id := range u.KeyIDs {
			if j, ok := column[id]; ok {
				m.Assigned[i][j] = true
			}
		}
	}
	return m, nil
}

// countCommon counts the ids present in both ascending slices.
func countCommon(a, b []int) int {
	n, i, j := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			n++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return n
}
