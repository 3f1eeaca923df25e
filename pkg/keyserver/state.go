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
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-keypredist/pkg/matrix"
	"github.com/jeremyhahn/go-keypredist/pkg/metrics"
	"github.com/jeremyhahn/go-keypredist/pkg/pool"
	"github.com/jeremyhahn/go-keypredist/pkg/storage"
	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

// StateResult lists the state documents touched by a save or load.
type StateResult struct {
	Pool   string `json:"pool,omitempty"`
	Matrix string `json:"matrix,omitempty"`
}

// SaveState writes every initialized scheme to storage.
func (s *Service) SaveState() (result StateResult, err error) {
	done := metrics.Track(metrics.OpSave, "all")
	defer func() { done(err) }()

	poolAuth, matrixAuth := s.poolAuthority(), s.matrixAuthority()
	if poolAuth == nil && matrixAuth == nil {
		return StateResult{}, fmt.Errorf("%w: no scheme initialized", types.ErrInvalidState)
	}

	if poolAuth != nil {
		if err = s.provisioner.SavePool(s.poolKey, poolAuth); err != nil {
			return StateResult{}, err
		}
		result.Pool = s.poolKey
	}
	if matrixAuth != nil {
		if err = s.provisioner.SaveMatrix(s.matrixKey, matrixAuth); err != nil {
			return StateResult{}, err
		}
		result.Matrix = s.matrixKey
	}

	s.logger.Info("saved state", "pool", result.Pool, "matrix", result.Matrix)
	return result, nil
}

// LoadState reads every stored scheme and installs it. Both documents are
// decoded and validated before either is installed; storage.ErrNotFound is
// returned when neither exists.
func (s *Service) LoadState() (result StateResult, err error) {
	done := metrics.Track(metrics.OpLoad, "all")
	defer func() { done(err) }()

	poolAuth, err := s.loadPool()
	if err != nil {
		return StateResult{}, err
	}
	matrixAuth, err := s.loadMatrix()
	if err != nil {
		return StateResult{}, err
	}
	if poolAuth == nil && matrixAuth == nil {
		return StateResult{}, fmt.Errorf("%w: no state stored at %q or %q",
			storage.ErrNotFound, s.poolKey, s.matrixKey)
	}

	s.mu.Lock()
	if poolAuth != nil {
		s.pool = poolAuth
		result.Pool = s.poolKey
	}
	if matrixAuth != nil {
		s.matrix = matrixAuth
		result.Matrix = s.matrixKey
	}
	s.mu.Unlock()

	if poolAuth != nil {
		s.dropCiphers(types.SchemePool)
		s.publishPoolGauges(poolAuth)
	}
	if matrixAuth != nil {
		s.dropCiphers(types.SchemeMatrix)
		metrics.SetUsers(types.SchemeMatrix.String(), matrixAuth.Registry.Len())
	}
	s.logger.Info("loaded state", "pool", result.Pool, "matrix", result.Matrix)
	return result, nil
}

func (s *Service) loadPool() (*pool.Authority, error) {
	a, err := s.provisioner.LoadPool(s.poolKey, s.rng)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return a, err
}

func (s *Service) loadMatrix() (*matrix.Authority, error) {
	a, err := s.provisioner.LoadMatrix(s.matrixKey, s.rng)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return a, err
}
