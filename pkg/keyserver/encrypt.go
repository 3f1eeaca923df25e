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

package keyserver

import (
	"fmt"

	"github.com/jeremyhahn/go-keypredist/pkg/crypto/aead"
	"github.com/jeremyhahn/go-keypredist/pkg/metrics"
	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

// EncryptRequest seals Plaintext under the key Sender shares with Recipient.
type EncryptRequest struct {
	Scheme         types.Scheme
	Sender         string
	Recipient      string
	Algorithm      types.SymmetricAlgorithm
	Plaintext      []byte
	AdditionalData []byte

	// Nonce is drawn at random when nil.
	Nonce []byte
}

// DecryptRequest opens Data, sealed by Sender, from Recipient's side.
type DecryptRequest struct {
	Scheme         types.Scheme
	Sender         string
	Recipient      string
	Data           *types.EncryptedData
	AdditionalData []byte
}

// cipherID names the cipher of one unordered user pair.
type cipherID struct {
	scheme    types.Scheme
	algorithm types.SymmetricAlgorithm
	low, high string
}

// cachedCipher remembers which authority the cipher's key came from so a
// re-initialized or reloaded scheme never reuses a stale key.
type cachedCipher struct {
	owner  any
	cipher aead.Cipher
}

// Encrypt seals the plaintext under the pairwise key. An empty algorithm
// selects aead.Recommend. Pool users without common keys yield
// types.ErrNoSharedKeys. Each pair keeps one cipher, so the configured
// nonce tracking and byte limit apply across requests.
func (s *Service) Encrypt(req *EncryptRequest) (data *types.EncryptedData, err error) {
	if req == nil {
		return nil, fmt.Errorf("%w: encrypt request is required", types.ErrInvalidParameters)
	}
	done := metrics.Track(metrics.OpEncrypt, req.Scheme.String())
	defer func() { done(err) }()

	c, err := s.pairCipher(req.Scheme, req.Algorithm, req.Sender, req.Recipient)
	if err != nil {
		return nil, err
	}
	return c.Encrypt(req.Plaintext, &types.EncryptOptions{
		Nonce:          req.Nonce,
		AdditionalData: req.AdditionalData,
	})
}

// Decrypt derives the key from the recipient's side and opens the data.
func (s *Service) Decrypt(req *DecryptRequest) (plaintext []byte, err error) {
	if req == nil || req.Data == nil {
		return nil, fmt.Errorf("%w: decrypt request and data are required", types.ErrInvalidParameters)
	}
	done := metrics.Track(metrics.OpDecrypt, req.Scheme.String())
	defer func() { done(err) }()

	algorithm, err := types.ParseSymmetricAlgorithm(req.Data.Algorithm)
	if err != nil {
		return nil, err
	}
	c, err := s.pairCipher(req.Scheme, algorithm, req.Recipient, req.Sender)
	if err != nil {
		return nil, err
	}
	return c.Decrypt(req.Data, &types.DecryptOptions{AdditionalData: req.AdditionalData})
}

// pairCipher returns the cached cipher of self and peer, creating it from
// the derived pairwise key on first use.
func (s *Service) pairCipher(scheme types.Scheme, algorithm types.SymmetricAlgorithm, self, peer string) (aead.Cipher, error) {
	if algorithm == "" {
		algorithm = aead.Recommend()
	}
	id := cipherID{scheme: scheme, algorithm: algorithm, low: self, high: peer}
	if id.high < id.low {
		id.low, id.high = id.high, id.low
	}

	owner := s.schemeOwner(scheme)
	s.cipherMu.Lock()
	cached, ok := s.ciphers[id]
	s.cipherMu.Unlock()
	if ok && owner != nil && cached.owner == owner {
		return cached.cipher, nil
	}

	key, err := s.pairKey(scheme, self, peer)
	if err != nil {
		return nil, err
	}
	opts := s.cipherOpts
	c, err := aead.New(algorithm, key, &opts)
	if err != nil {
		return nil, err
	}

	s.cipherMu.Lock()
	defer s.cipherMu.Unlock()
	if cached, ok := s.ciphers[id]; ok && cached.owner == owner {
		return cached.cipher, nil
	}
	s.ciphers[id] = cachedCipher{owner: owner, cipher: c}
	return c, nil
}

// schemeOwner returns the current authority of scheme, or nil.
func (s *Service) schemeOwner(scheme types.Scheme) any {
	switch scheme {
	case types.SchemePool:
		if a := s.poolAuthority(); a != nil {
			return a
		}
	case types.SchemeMatrix:
		if a := s.matrixAuthority(); a != nil {
			return a
		}
	}
	return nil
}

// dropCiphers forgets every cached cipher of the given schemes.
func (s *Service) dropCiphers(schemes ...types.Scheme) {
	s.cipherMu.Lock()
	defer s.cipherMu.Unlock()
	for id := range s.ciphers {
		for _, scheme := range schemes {
			if id.scheme == scheme {
				delete(s.ciphers, id)
			}
		}
	}
}

func (s *Service) pairKey(scheme types.Scheme, self, peer string) ([]byte, error) {
	switch scheme {
	case types.SchemePool:
		secret, ok, err := s.DeriveSecret(self, peer)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s and %s", types.ErrNoSharedKeys, self, peer)
		}
		return secret.Bytes(), nil
	case types.SchemeMatrix:
		return s.MatrixKey(self, peer, 0)
	default:
		return nil, fmt.Errorf("%w: unknown scheme %q", types.ErrInvalidParameters, scheme)
	}
}
