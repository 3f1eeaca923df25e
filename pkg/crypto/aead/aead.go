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

// Package aead encrypts data under keys produced by the predistribution
// schemes. A pool shared secret is 32 bytes and can feed either cipher
// directly; AES-GCM also accepts 16 and 24 byte keys.
//
//	secret, ok, err := authority.Deriver.Derive("alice", "bob")
//	c, err := aead.New(types.SymmetricAESGCM, secret.Bytes(), nil)
//	sealed, err := c.Encrypt([]byte("hello"), nil)
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

// Cipher seals and opens messages under a single key.
type Cipher interface {
	// Encrypt seals plaintext. A random nonce is drawn unless opts
	// supplies one.
	Encrypt(plaintext []byte, opts *types.EncryptOptions) (*types.EncryptedData, error)

	// Decrypt authenticates and opens data.
	Decrypt(data *types.EncryptedData, opts *types.DecryptOptions) ([]byte, error)

	// Algorithm returns the cipher name.
	Algorithm() types.SymmetricAlgorithm

	NonceSize() int

	Overhead() int
}

// Options enable per-key usage tracking.
type Options struct {
	// TrackNonces rejects a nonce that was already used with this key.
	TrackNonces bool

	// BytesLimit caps the plaintext sealed under this key. Zero means no limit.
	BytesLimit int64
}

type sealer struct {
	aead      cipher.AEAD
	algorithm types.SymmetricAlgorithm
	nonces    *NonceTracker
	bytes     *BytesTracker
}

// New creates a cipher for algorithm. An empty algorithm selects the
// faster cipher for this CPU (see Recommend).
func New(algorithm types.SymmetricAlgorithm, key []byte, opts *Options) (Cipher, error) {
	if algorithm == "" {
		algorithm = Recommend()
	}
	switch algorithm {
	case types.SymmetricAESGCM:
		return NewAESGCM(key, opts)
	case types.SymmetricChaCha20Poly1305:
		return NewChaCha20Poly1305(key, opts)
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidAlgorithm, algorithm)
	}
}

// NewAESGCM creates an AES-GCM cipher. The key must be 16, 24 or 32 bytes.
func NewAESGCM(key []byte, opts *Options) (Cipher, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d bytes (must be 16, 24 or 32)", ErrInvalidKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return newSealer(gcm, types.SymmetricAESGCM, opts), nil
}

// NewChaCha20Poly1305 creates a ChaCha20-Poly1305 cipher. The key must be
// 32 bytes.
func NewChaCha20Poly1305(key []byte, opts *Options) (Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: %d bytes (must be %d)", ErrInvalidKeySize, len(key), chacha20poly1305.KeySize)
	}

	c, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
	}
	return newSealer(c, types.SymmetricChaCha20Poly1305, opts), nil
}

func newSealer(a cipher.AEAD, algorithm types.SymmetricAlgorithm, opts *Options) *sealer {
	if opts == nil {
		opts = &Options{}
	}
	return &sealer{
		aead:      a,
		algorithm: algorithm,
		nonces:    NewNonceTracker(opts.TrackNonces),
		bytes:     NewBytesTracker(opts.BytesLimit),
	}
}

func (s *sealer) Algorithm() types.SymmetricAlgorithm {
	return s.algorithm
}

func (s *sealer) NonceSize() int {
	return s.aead.NonceSize()
}

func (s *sealer) Overhead() int {
	return s.aead.Overhead()
}

func (s *sealer) Encrypt(plaintext []byte, opts *types.EncryptOptions) (*types.EncryptedData, error) {
	if opts == nil {
		opts = &types.EncryptOptions{}
	}

	nonceSize := s.aead.NonceSize()
	nonce := opts.Nonce
	if nonce == nil {
		nonce = make([]byte, nonceSize)
		if _, err := rand.Read(nonce); err != nil {
			return nil, fmt.Errorf("failed to generate nonce: %w", err)
		}
	} else if len(nonce) != nonceSize {
		return nil, fmt.Errorf("%w: nonce is %d bytes, must be %d", types.ErrInvalidParameters, len(nonce), nonceSize)
	}

	if err := s.bytes.Add(int64(len(plaintext))); err != nil {
		return nil, err
	}
	if err := s.nonces.CheckAndRecord(nonce); err != nil {
		return nil, err
	}

	sealed := s.aead.Seal(nil, nonce, plaintext, opts.AdditionalData)
	tagStart := len(sealed) - s.aead.Overhead()

	return &types.EncryptedData{
		Ciphertext: sealed[:tagStart],
		Tag:        sealed[tagStart:],
		Nonce:      nonce,
		Algorithm:  string(s.algorithm),
	}, nil
}

func (s *sealer) Decrypt(data *types.EncryptedData, opts *types.DecryptOptions) ([]byte, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: encrypted data cannot be nil", types.ErrInvalidParameters)
	}
	if opts == nil {
		opts = &types.DecryptOptions{}
	}
	if data.Algorithm != "" && data.Algorithm != string(s.algorithm) {
		return nil, fmt.Errorf("%w: data sealed with %s, cipher is %s",
			types.ErrInvalidAlgorithm, data.Algorithm, s.algorithm)
	}
	if len(data.Nonce) != s.aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce is %d bytes, must be %d", types.ErrInvalidParameters, len(data.Nonce), s.aead.NonceSize())
	}
	if len(data.Tag) != s.aead.Overhead() {
		return nil, fmt.Errorf("%w: tag is %d bytes, must be %d", types.ErrInvalidParameters, len(data.Tag), s.aead.Overhead())
	}

	sealed := make([]byte, 0, len(data.Ciphertext)+len(data.Tag))
	sealed = append(sealed, data.Ciphertext...)
	sealed = append(sealed, data.Tag...)

	plaintext, err := s.aead.Open(nil, data.Nonce, sealed, opts.AdditionalData)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
