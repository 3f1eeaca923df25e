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

// Package matrix implements Blom-style symmetric matrix key predistribution.
//
// The authority draws a secret symmetric matrix S over Z_p. Each user gets a
// random secret vector x and the public vector S·x mod p. Users a and b
// agree on x_a·(S·x_b) mod p, which equals x_b·(S·x_a) mod p because S is
// symmetric. All arithmetic is exact integer arithmetic with math/big.
package matrix

import (
	"fmt"
	"io"
	"math/big"

	"github.com/jeremyhahn/go-keypredist/pkg/crypto/rand"
	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

var two = big.NewInt(2)

// Matrix is an immutable symmetric matrix over the integers modulo a prime.
type Matrix struct {
	prime     *big.Int
	dimension int
	entries   [][]*big.Int
}

// Generate draws a dimension x dimension symmetric matrix with entries
// uniform in [0, prime). Only the upper triangle is drawn; the lower
// triangle mirrors it.
func Generate(prime *big.Int, dimension int, rng io.Reader) (*Matrix, error) {
	if err := validateParameters(prime, dimension); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.Default()
	}

	entries := newEntries(dimension)
	for i := 0; i < dimension; i++ {
		for j := i; j < dimension; j++ {
			v, err := rand.Int(rng, prime)
			if err != nil {
				return nil, fmt.Errorf("failed to generate matrix entry (%d,%d): %w", i, j, err)
			}
			entries[i][j] = v
			entries[j][i] = v
		}
	}

	return &Matrix{
		prime:     new(big.Int).Set(prime),
		dimension: dimension,
		entries:   entries,
	}, nil
}

// New builds a matrix from existing entries, as when restoring persisted
// state. The entries must form a square symmetric matrix with every value
// in [0, prime).
func New(prime *big.Int, entries [][]*big.Int) (*Matrix, error) {
	dimension := len(entries)
	if err := validateParameters(prime, dimension); err != nil {
		return nil, err
	}

	copied := newEntries(dimension)
	for i, row := range entries {
		if len(row) != dimension {
			return nil, fmt.Errorf("%w: row %d has %d entries, expected %d",
				types.ErrDimensionMismatch, i, len(row), dimension)
		}
		for j, v := range row {
			if !inField(v, prime) {
				return nil, fmt.Errorf("%w: entry (%d,%d) outside [0, p)", types.ErrInvalidParameters, i, j)
			}
			copied[i][j] = new(big.Int).Set(v)
		}
	}
	for i := 0; i < dimension; i++ {
		for j := i + 1; j < dimension; j++ {
			if copied[i][j].Cmp(copied[j][i]) != 0 {
				return nil, fmt.Errorf("%w: matrix is not symmetric at (%d,%d)", types.ErrInvalidParameters, i, j)
			}
		}
	}

	return &Matrix{
		prime:     new(big.Int).Set(prime),
		dimension: dimension,
		entries:   copied,
	}, nil
}

// Prime returns a copy of the field modulus.
func (m *Matrix) Prime() *big.Int {
	return new(big.Int).Set(m.prime)
}

// Dimension returns the number of rows (and columns).
func (m *Matrix) Dimension() int {
	return m.dimension
}

// Entries returns a deep copy of the matrix entries.
func (m *Matrix) Entries() [][]*big.Int {
	out := newEntries(m.dimension)
	for i, row := range m.entries {
		for j, v := range row {
			out[i][j] = new(big.Int).Set(v)
		}
	}
	return out
}

// Multiply returns m·v mod p.
func (m *Matrix) Multiply(v []*big.Int) ([]*big.Int, error) {
	if m == nil || m.entries == nil {
		return nil, types.ErrUninitializedMatrix
	}
	if len(v) != m.dimension {
		return nil, fmt.Errorf("%w: vector has %d entries, expected %d",
			types.ErrDimensionMismatch, len(v), m.dimension)
	}

	out := make([]*big.Int, m.dimension)
	for i, row := range m.entries {
		out[i] = dot(row, v, m.prime)
	}
	return out, nil
}

// dot returns Σ a[k]·b[k] mod p. The slices must have equal length.
func dot(a, b []*big.Int, p *big.Int) *big.Int {
	sum := new(big.Int)
	term := new(big.Int)
	for k := range a {
		term.Mul(a[k], b[k])
		sum.Add(sum, term)
	}
	return sum.Mod(sum, p)
}

func newEntries(dimension int) [][]*big.Int {
	entries := make([][]*big.Int, dimension)
	for i := range entries {
		entries[i] = make([]*big.Int, dimension)
	}
	return entries
}

func validateParameters(prime *big.Int, dimension int) error {
	if prime == nil || prime.Cmp(two) <= 0 {
		return fmt.Errorf("%w: prime must be greater than 2", types.ErrInvalidParameters)
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", types.ErrInvalidParameters, dimension)
	}
	return nil
}

func inField(v, p *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(p) < 0
}

func copyVector(v []*big.Int) []*big.Int {
	out := make([]*big.Int, len(v))
	for i, x := range v {
		out[i] = new(big.Int).Set(x)
	}
	return out
}
