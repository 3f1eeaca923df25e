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

package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameters is returned when a pool size, keys-per-user count,
	// prime or dimension violates the basic domain constraints.
	ErrInvalidParameters = errors.New("kps: invalid parameters")

	// ErrInsufficientPool is returned when a user asks for more keys than the
	// pool holds. It matches ErrInvalidParameters with errors.Is.
	ErrInsufficientPool = fmt.Errorf("%w: keys per user exceeds pool size", ErrInvalidParameters)

	// ErrEmptyPool is returned when registration is attempted before the key
	// pool has been generated or installed.
	ErrEmptyPool = errors.New("kps: key pool not generated")

	// ErrUninitializedMatrix is returned when the symmetric matrix is used
	// before it has been generated or restored.
	ErrUninitializedMatrix = errors.New("kps: matrix not generated")

	// ErrUnknownUser is returned when a derivation references an
	// unregistered user.
	ErrUnknownUser = errors.New("kps: unknown user")

	// ErrNotFound is returned by lookups for keys or users that do not exist.
	ErrNotFound = errors.New("kps: not found")

	// ErrDimensionMismatch indicates a stored vector whose length differs from
	// the configured dimension. Registration never produces one; seeing it
	// means the in-memory state is corrupt.
	ErrDimensionMismatch = errors.New("kps: vector dimension mismatch")

	// ErrInvalidState is returned when persisted state is malformed or does
	// not match the configuration it is loaded into.
	ErrInvalidState = errors.New("kps: invalid state")

	// ErrInvalidAlgorithm is returned when an unsupported cipher is requested.
	ErrInvalidAlgorithm = errors.New("kps: invalid algorithm")

	// ErrNoSharedKeys is returned when a pool derivation is required but the
	// two users hold no common key ids.
	ErrNoSharedKeys = errors.New("kps: no common predistributed keys")
)
