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
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

// SecretSize is the size of a derived shared secret in bytes.
const SecretSize = sha256.Size

// SharedSecret is the SHA-256 digest two users derive from their common keys.
type SharedSecret [SecretSize]byte

// Bytes returns a copy of the raw digest, usable as a 256-bit symmetric key.
func (s SharedSecret) Bytes() []byte {
	b := make([]byte, SecretSize)
	copy(b, s[:])
	return b
}

// Hex returns the digest as a 64-character lowercase hex string.
func (s SharedSecret) Hex() string {
	return hex.EncodeToString(s[:])
}

// Deriver computes shared secrets between users of a Registry.
type Deriver struct {
	registry *Registry
}

// NewDeriver creates a deriver over the given registry.
func NewDeriver(registry *Registry) *Deriver {
	return &Deriver{registry: registry}
}

// CommonKeyIDs returns the ids both users hold, in ascending order.
func (d *Deriver) CommonKeyIDs(a, b string) ([]int, error) {
	d.registry.mu.RLock()
	defer d.registry.mu.RUnlock()

	return d.commonKeyIDs(a, b)
}

// Derive computes the shared secret of users a and b.
//
// The raw values of the common keys are concatenated in ascending id order
// and hashed with SHA-256. When the users share no keys the returned bool is
// false and no secret exists; this is not an error. The result is the same
// for (a, b) and (b, a).
func (d *Deriver) Derive(a, b string) (SharedSecret, bool, error) {
	d.registry.mu.RLock()
	defer d.registry.mu.RUnlock()

	common, err := d.commonKeyIDs(a, b)
	if err != nil {
		return SharedSecret{}, false, err
	}
	if len(common) == 0 {
		return SharedSecret{}, false, nil
	}

	pool := d.registry.pool
	pool.mu.RLock()
	material, err := pool.material(common)
	pool.mu.RUnlock()
	if err != nil {
		return SharedSecret{}, false, fmt.Errorf("failed to collect key material: %w", err)
	}

	return SharedSecret(sha256.Sum256(material)), true, nil
}

// commonKeyIDs intersects two key rings. The caller must hold registry.mu.
func (d *Deriver) commonKeyIDs(a, b string) ([]int, error) {
	userA, ok := d.registry.users[a]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownUser, a)
	}
	userB, ok := d.registry.users[b]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownUser, b)
	}
	return intersect(userA.KeyIDs, userB.KeyIDs), nil
}

// intersect merges two ascending id lists into their ascending intersection.
func intersect(a, b []int) []int {
	common := make([]int, 0)
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			common = append(common, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return common
}
