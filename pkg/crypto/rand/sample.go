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

package rand

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

var (
	// ErrInvalidBound is returned when an upper bound is not positive.
	ErrInvalidBound = errors.New("rand: bound must be positive")

	// ErrInvalidSampleSize is returned when a sample larger than the
	// population, or a negative sample, is requested.
	ErrInvalidSampleSize = errors.New("rand: invalid sample size")

	// ErrResolverClosed is returned when reading from a closed resolver.
	ErrResolverClosed = errors.New("rand: resolver is closed")
)

// Int returns a uniform random value in [0, max) read from r.
func Int(r io.Reader, max *big.Int) (*big.Int, error) {
	if max == nil || max.Sign() <= 0 {
		return nil, ErrInvalidBound
	}
	v, err := rand.Int(r, max)
	if err != nil {
		return nil, fmt.Errorf("failed to draw random integer: %w", err)
	}
	return v, nil
}

// Intn returns a uniform random int in [0, n) read from r.
func Intn(r io.Reader, n int) (int, error) {
	if n <= 0 {
		return 0, ErrInvalidBound
	}
	v, err := Int(r, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// Sample draws k distinct elements from population without replacement.
//
// It runs k steps of a Fisher-Yates shuffle over a copy of the population.
// The population slice is not modified.
func Sample(r io.Reader, population []int, k int) ([]int, error) {
	if k < 0 || k > len(population) {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidSampleSize, k, len(population))
	}

	work := make([]int, len(population))
	copy(work, population)

	for i := 0; i < k; i++ {
		j, err := Intn(r, len(work)-i)
		if err != nil {
			return nil, err
		}
		j += i
		work[i], work[j] = work[j], work[i]
	}

	return work[:k:k], nil
}
