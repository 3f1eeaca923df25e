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

// Package validation checks identifiers arriving from the CLI and REST API
// before they reach the authorities or the storage layer.
package validation

import (
	"fmt"
	"math/big"
	"path"
	"regexp"
	"strings"

	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

const (
	// MaxPoolSize bounds the number of keys generated into one pool.
	MaxPoolSize = 1 << 16

	// MaxDimension bounds the dimension of a symmetric matrix.
	MaxDimension = 256

	// MaxPrimeBits bounds the bit length of a matrix field modulus.
	MaxPrimeBits = 4096
)

const (
	maxUserIDLength   = 255
	maxStateKeyLength = 255
	maxLogLength      = 1000
)

var (
	userIDPattern   = regexp.MustCompile(`^[a-zA-Z0-9_\-\.@]+$`)
	stateKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\./]+$`)
)

// ValidateUserID checks a user identifier. Errors wrap
// types.ErrInvalidParameters.
func ValidateUserID(userID string) error {
	if userID == "" {
		return invalid("user ID cannot be empty")
	}
	if len(userID) > maxUserIDLength {
		return invalid("user ID too long (max %d characters)", maxUserIDLength)
	}
	if hasControl(userID) {
		return invalid("user ID contains control characters")
	}
	if !userIDPattern.MatchString(userID) {
		return invalid("user ID contains invalid characters (allowed: a-z, A-Z, 0-9, -, _, ., @)")
	}
	return nil
}

// ValidateUserPair checks both ids of a derivation request.
func ValidateUserPair(a, b string) error {
	if err := ValidateUserID(a); err != nil {
		return err
	}
	return ValidateUserID(b)
}

// ValidateStateKey checks the storage key a state document is saved under.
// Keys are relative slash-separated paths without parent references.
func ValidateStateKey(key string) error {
	if key == "" {
		return invalid("state key cannot be empty")
	}
	if len(key) > maxStateKeyLength {
		return invalid("state key too long (max %d characters)", maxStateKeyLength)
	}
	if hasControl(key) {
		return invalid("state key contains control characters")
	}
	if strings.HasPrefix(key, "/") {
		return invalid("state key cannot be an absolute path")
	}
	cleaned := path.Clean(key)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.Contains(key, "/../") || strings.HasSuffix(key, "/..") {
		return invalid("state key contains path traversal attempt")
	}
	if !stateKeyPattern.MatchString(key) {
		return invalid("state key contains invalid characters (allowed: a-z, A-Z, 0-9, -, _, ., /)")
	}
	return nil
}

// ValidatePoolParameters checks the size of a pool before any key is
// generated. Errors wrap types.ErrInvalidParameters.
func ValidatePoolParameters(poolSize, keysPerUser int) error {
	if poolSize < 0 || poolSize > MaxPoolSize {
		return invalid("pool size must be between 0 and %d, got %d", MaxPoolSize, poolSize)
	}
	if keysPerUser < 0 || keysPerUser > poolSize {
		return invalid("keys per user must be between 0 and the pool size %d, got %d", poolSize, keysPerUser)
	}
	return nil
}

// ValidateMatrixParameters checks the modulus and dimension of a matrix
// before it is generated. A nil prime is accepted and means the default.
func ValidateMatrixParameters(prime *big.Int, dimension int) error {
	if dimension <= 0 || dimension > MaxDimension {
		return invalid("dimension must be between 1 and %d, got %d", MaxDimension, dimension)
	}
	if prime != nil && prime.BitLen() > MaxPrimeBits {
		return invalid("prime must be at most %d bits, got %d", MaxPrimeBits, prime.BitLen())
	}
	return nil
}

// SanitizeForLog strips control characters and truncates s.
func SanitizeForLog(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	if len(s) > maxLogLength {
		s = s[:maxLogLength] + "...[truncated]"
	}
	return s
}

func hasControl(s string) bool {
	for _, r := range s {
		if r < 32 || r == 127 {
			return true
		}
	}
	return false
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrInvalidParameters, fmt.Sprintf(format, args...))
}
