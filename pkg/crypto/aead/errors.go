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
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

var (
	// ErrInvalidKeySize is returned when a key does not fit the cipher.
	// It matches types.ErrInvalidParameters.
	ErrInvalidKeySize = fmt.Errorf("%w: invalid key size", types.ErrInvalidParameters)

	// ErrNonceReuse is returned when a tracked key sees a nonce twice.
	ErrNonceReuse = errors.New("aead: nonce reuse detected, encryption rejected")

	// ErrBytesLimitExceeded is returned when a key's byte budget is spent.
	ErrBytesLimitExceeded = errors.New("aead: bytes limit exceeded")

	// ErrAuthenticationFailed is returned when a ciphertext, tag, nonce or
	// additional data does not authenticate under the key.
	ErrAuthenticationFailed = errors.New("aead: message authentication failed")
)
