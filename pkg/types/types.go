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

// Package types defines the error values and small shared types used across
// the key predistribution packages.
package types

import "fmt"

// Scheme identifies one of the two key predistribution schemes.
type Scheme string

const (
	// SchemePool is the random key pool scheme.
	SchemePool Scheme = "pool"

	// SchemeMatrix is the symmetric matrix (Blom style) scheme.
	SchemeMatrix Scheme = "matrix"
)

// String returns the scheme name.
func (s Scheme) String() string {
	return string(s)
}

// ParseScheme converts a scheme name into a Scheme.
func ParseScheme(name string) (Scheme, error) {
	switch Scheme(name) {
	case SchemePool, SchemeMatrix:
		return Scheme(name), nil
	default:
		return "", fmt.Errorf("%w: unknown scheme %q", ErrInvalidParameters, name)
	}
}

// SymmetricAlgorithm names an AEAD cipher that consumes a derived key.
type SymmetricAlgorithm string

const (
	// SymmetricAESGCM is AES in Galois/Counter Mode. The key size (16, 24
	// or 32 bytes) selects AES-128, AES-192 or AES-256.
	SymmetricAESGCM SymmetricAlgorithm = "aes-gcm"

	// SymmetricChaCha20Poly1305 is ChaCha20-Poly1305 with a 32-byte key.
	SymmetricChaCha20Poly1305 SymmetricAlgorithm = "chacha20-poly1305"
)

// String returns the algorithm name.
func (a SymmetricAlgorithm) String() string {
	return string(a)
}

// ParseSymmetricAlgorithm converts an algorithm name into a SymmetricAlgorithm.
func ParseSymmetricAlgorithm(name string) (SymmetricAlgorithm, error) {
	switch SymmetricAlgorithm(name) {
	case SymmetricAESGCM, SymmetricChaCha20Poly1305:
		return SymmetricAlgorithm(name), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidAlgorithm, name)
	}
}

// EncryptedData holds the output of an AEAD seal operation.
type EncryptedData struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	Tag        []byte `json:"tag"`
	Algorithm  string `json:"algorithm"`
}

// EncryptOptions tune a single AEAD seal.
type EncryptOptions struct {
	// Nonce overrides the randomly drawn nonce. Callers must never repeat
	// a nonce under the same key.
	Nonce []byte

	// AdditionalData is authenticated but not encrypted.
	AdditionalData []byte
}

// DecryptOptions tune a single AEAD open.
type DecryptOptions struct {
	// AdditionalData must match the value used at encryption.
	AdditionalData []byte
}
