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

package aead

import (
	"encoding/hex"
	"fmt"
	"sync"
)

// NonceTracker remembers nonces used with one key.
type NonceTracker struct {
	enabled bool
	nonces  map[string]struct{}
	mu      sync.Mutex
}

// NewNonceTracker creates a tracker. A disabled tracker accepts everything.
func NewNonceTracker(enabled bool) *NonceTracker {
	return &NonceTracker{
		enabled: enabled,
		nonces:  make(map[string]struct{}),
	}
}

// CheckAndRecord returns ErrNonceReuse if nonce was seen before and
// records it otherwise.
func (nt *NonceTracker) CheckAndRecord(nonce []byte) error {
	if !nt.enabled {
		return nil
	}

	key := hex.EncodeToString(nonce)

	nt.mu.Lock()
	defer nt.mu.Unlock()

	if _, exists := nt.nonces[key]; exists {
		return ErrNonceReuse
	}
	nt.nonces[key] = struct{}{}
	return nil
}

// Count returns the number of recorded nonces.
func (nt *NonceTracker) Count() int {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	return len(nt.nonces)
}

// BytesTracker caps the plaintext volume sealed under one key.
type BytesTracker struct {
	limit int64
	used  int64
	mu    sync.Mutex
}

// NewBytesTracker creates a tracker. A limit of zero or less disables it.
func NewBytesTracker(limit int64) *BytesTracker {
	return &BytesTracker{limit: limit}
}

// Add accounts n bytes, failing without accounting them when the limit
// would be exceeded.
func (bt *BytesTracker) Add(n int64) error {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	if bt.limit > 0 && bt.used+n > bt.limit {
		return fmt.Errorf("%w: %d of %d bytes used, %d requested",
			ErrBytesLimitExceeded, bt.used, bt.limit, n)
	}
	bt.used += n
	return nil
}

// Used returns the bytes accounted so far.
func (bt *BytesTracker) Used() int64 {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	return bt.used
}
