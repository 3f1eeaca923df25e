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
	"math/big"
	"sort"

	"github.com/jeremyhahn/go-keypredist/pkg/matrix"
	"github.com/jeremyhahn/go-keypredist/pkg/metrics"
	"github.com/jeremyhahn/go-keypredist/pkg/types"
	"github.com/jeremyhahn/go-keypredist/pkg/validation"
)

// RegisterMatrixUser draws secret and public vectors for userID, or returns
// the existing ones.
func (s *Service) RegisterMatrixUser(userID string) (user matrix.User, err error) {
	done := metrics.Track(metrics.OpRegister, types.SchemeMatrix.String())
	defer func() { done(err) }()

	if err = validation.ValidateUserID(userID); err != nil {
		return matrix.User{}, err
	}
	a, err := s.requireMatrix()
	if err != nil {
		return matrix.User{}, err
	}
	user, err = a.Registry.Register(userID)
	if err != nil {
		return matrix.User{}, err
	}

	metrics.SetUsers(types.SchemeMatrix.String(), a.Registry.Len())
	s.logger.Debug("registered matrix user", "user", userID)
	return user, nil
}

// MatrixUser returns one registered matrix user.
func (s *Service) MatrixUser(userID string) (matrix.User, error) {
	a, err := s.requireMatrix()
	if err != nil {
		return matrix.User{}, err
	}
	return a.Registry.Get(userID)
}

// MatrixUsers returns every registered matrix user ordered by id.
func (s *Service) MatrixUsers() ([]matrix.User, error) {
	a, err := s.requireMatrix()
	if err != nil {
		return nil, err
	}
	all := a.Registry.All()
	users := make([]matrix.User, 0, len(all))
	for _, u := range all {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// SharedValue computes the matrix shared value from requester's side.
func (s *Service) SharedValue(requester, other string) (value *big.Int, err error) {
	done := metrics.Track(metrics.OpShared, types.SchemeMatrix.String())
	defer func() { done(err) }()

	if err = validation.ValidateUserPair(requester, other); err != nil {
		return nil, err
	}
	a, err := s.requireMatrix()
	if err != nil {
		return nil, err
	}
	return a.Deriver.SharedValue(requester, other)
}

// MatrixKey derives a symmetric key of size bytes from the matrix shared
// value of requester and other.
func (s *Service) MatrixKey(requester, other string, size int) (key []byte, err error) {
	done := metrics.Track(metrics.OpDerive, types.SchemeMatrix.String())
	defer func() { done(err) }()

	if err = validation.ValidateUserPair(requester, other); err != nil {
		return nil, err
	}
	a, err := s.requireMatrix()
	if err != nil {
		return nil, err
	}
	return a.Deriver.DeriveKey(requester, other, size)
}
