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

	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

// DefaultPrime is the Mersenne prime 2^31-1.
var DefaultPrime = big.NewInt(2147483647)

// DefaultDimension is the matrix dimension used when none is configured.
const DefaultDimension = 4

// Config holds the parameters of a matrix authority.
type Config struct {
	// Prime is the field modulus. Must be greater than 2.
	Prime *big.Int

	// Dimension is the matrix and vector length. Must be positive.
	Dimension int

	// Rand overrides the randomness source. Defaults to crypto/rand.
	Rand io.Reader
}

// Validate checks the matrix parameters.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: matrix config is required", types.ErrInvalidParameters)
	}
	return validateParameters(c.Prime, c.Dimension)
}

// Authority bundles the generated symmetric matrix with its registry and
// deriver. The matrix is generated once at construction.
type Authority struct {
	Registry *Registry
	Deriver  *Deriver
}

// NewAuthority validates cfg, generates the symmetric matrix and returns a
// ready authority with no registered users.
func NewAuthority(cfg *Config) (*Authority, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m, err := Generate(cfg.Prime, cfg.Dimension, cfg.Rand)
	if err != nil {
		return nil, err
	}
	return newAuthority(m, cfg.Rand)
}

// NewAuthorityFromMatrix returns an authority over an existing matrix.
func NewAuthorityFromMatrix(m *Matrix, rng io.Reader) (*Authority, error) {
	return newAuthority(m, rng)
}

func newAuthority(m *Matrix, rng io.Reader) (*Authority, error) {
	registry, err := NewRegistry(m, rng)
	if err != nil {
		return nil, err
	}
	return &Authority{
		Registry: registry,
		Deriver:  NewDeriver(registry),
	}, nil
}

// Matrix returns the authority's symmetric matrix.
func (a *Authority) Matrix() *Matrix {
	return a.Registry.Matrix()
}

// Prime returns the field modulus.
func (a *Authority) Prime() *big.Int {
	return a.Matrix().Prime()
}

// Dimension returns the matrix dimension.
func (a *Authority) Dimension() int {
	return a.Matrix().Dimension()
}
