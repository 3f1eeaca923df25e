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
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"

	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

// DefaultKeySize is the symmetric key size produced by DeriveKey when no
// size is requested.
const DefaultKeySize = 32

// MaxKeySize is the longest key HKDF-SHA256 can expand to.
const MaxKeySize = 255 * sha256.Size

const keyInfo = "go-keypredist matrix shared key v1"

// Deriver computes shared values between users of a Registry.
type Deriver struct {
	registry *Registry
}

// NewDeriver creates a deriver over the given registry.
func NewDeriver(registry *Registry) *Deriver {
	return &Deriver{registry: registry}
}

// SharedValue returns secret(requester)·public(other) mod p.
//
// For any registered pair SharedValue(a, b) equals SharedValue(b, a).
func (d *Deriver) SharedValue(requester, other string) (*big.Int, error) {
	d.registry.mu.RLock()
	defer d.registry.mu.RUnlock()

	value, _, err := d.sharedValue(requester, other)
	return value, err
}

// DeriveKey stretches the shared value of requester and other into a
// symmetric key of size bytes using HKDF-SHA256. A size of zero selects
// DefaultKeySize; sizes above MaxKeySize are rejected. The shared value is
// encoded big-endian, left padded to the byte length of the prime, so both
// parties feed identical input to HKDF.
func (d *Deriver) DeriveKey(requester, other string, size int) ([]byte, error) {
	if size < 0 || size > MaxKeySize {
		return nil, fmt.Errorf("%w: key size must be between 0 and %d, got %d",
			types.ErrInvalidParameters, MaxKeySize, size)
	}
	if size == 0 {
		size = DefaultKeySize
	}

	d.registry.mu.RLock()
	value, prime, err := d.sharedValue(requester, other)
	d.registry.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	ikm := value.FillBytes(make([]byte, (prime.BitLen()+7)/8))
	salt := prime.Bytes()

	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// sharedValue computes the shared value and returns the modulus it was
// reduced by. The caller must hold registry.mu.
func (d *Deriver) sharedValue(requester, other string) (*big.Int, *big.Int, error) {
	m := d.registry.matrix
	if m == nil || m.entries == nil {
		return nil, nil, types.ErrUninitializedMatrix
	}

	a, ok := d.registry.users[requester]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", types.ErrUnknownUser, requester)
	}
	b, ok := d.registry.users[other]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", types.ErrUnknownUser, other)
	}

	if len(a.Secret) != m.dimension || len(b.Public) != m.dimension {
		return nil, nil, fmt.Errorf("%w: secret(%s)=%d public(%s)=%d dimension=%d",
			types.ErrDimensionMismatch, requester, len(a.Secret), other, len(b.Public), m.dimension)
	}

	return dot(a.Secret, b.Public, m.prime), m.prime, nil
}
