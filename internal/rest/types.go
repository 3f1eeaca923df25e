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

package rest

import (
	"github.com/jeremyhahn/go-keypredist/pkg/health"
	"github.com/jeremyhahn/go-keypredist/pkg/keyserver"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  health.Status `json:"status"`
	Version string        `json:"version,omitempty"`
}

// HealthCheckResponse is the body of the health endpoints.
type HealthCheckResponse struct {
	Status  health.Status        `json:"status"`
	Message string               `json:"message,omitempty"`
	Checks  []health.CheckResult `json:"checks,omitempty"`
}

// InitPoolRequest generates a key pool.
type InitPoolRequest struct {
	PoolSize    int `json:"pool_size"`
	KeysPerUser int `json:"keys_per_user"`
}

// PoolInfo describes the current pool.
type PoolInfo struct {
	PoolSize    int `json:"pool_size"`
	KeysPerUser int `json:"keys_per_user"`
	Users       int `json:"users"`
}

// KeyInfo is one pool key.
type KeyInfo struct {
	KeyID int    `json:"key_id"`
	Value string `json:"value"`
}

// ListKeysResponse lists pool keys.
type ListKeysResponse struct {
	Keys []KeyInfo `json:"keys"`
}

// RegisterRequest registers a user with either scheme.
type RegisterRequest struct {
	UserID string `json:"user_id"`
}

// PoolUserInfo is a user's key ring.
type PoolUserInfo struct {
	UserID string `json:"user_id"`
	KeyIDs []int  `json:"key_ids"`
}

// ListPoolUsersResponse lists key rings.
type ListPoolUsersResponse struct {
	Users []PoolUserInfo `json:"users"`
}

// CommonKeysResponse lists the key ids two users share.
type CommonKeysResponse struct {
	A      string `json:"a"`
	B      string `json:"b"`
	KeyIDs []int  `json:"key_ids"`
}

// DeriveResponse carries a pool shared secret. Secret is empty when Shared
// is false.
type DeriveResponse struct {
	A      string `json:"a"`
	B      string `json:"b"`
	Shared bool   `json:"shared"`
	Secret string `json:"secret,omitempty"`
}

// InitMatrixRequest generates a symmetric matrix. Prime is decimal and
// defaults to 2^31-1.
type InitMatrixRequest struct {
	Prime     string `json:"prime,omitempty"`
	Dimension int    `json:"dimension"`
}

// MatrixInfo describes the current matrix.
type MatrixInfo struct {
	Prime     string `json:"prime"`
	Dimension int    `json:"dimension"`
	Users     int    `json:"users"`
}

// MatrixUserInfo is a matrix user's public vector. SecretVector is only
// returned at registration.
type MatrixUserInfo struct {
	UserID       string   `json:"user_id"`
	PublicVector []string `json:"public_vector"`
	SecretVector []string `json:"secret_vector,omitempty"`
}

// ListMatrixUsersResponse lists public vectors.
type ListMatrixUsersResponse struct {
	Users []MatrixUserInfo `json:"users"`
}

// SharedValueResponse carries a matrix shared value in decimal.
type SharedValueResponse struct {
	Requester string `json:"requester"`
	Other     string `json:"other"`
	Value     string `json:"value"`
}

// MatrixKeyResponse carries a derived symmetric key in hex.
type MatrixKeyResponse struct {
	Requester string `json:"requester"`
	Other     string `json:"other"`
	Key       string `json:"key"`
}

// EncryptRequest seals Plaintext with the key Sender shares with Recipient.
type EncryptRequest struct {
	Scheme         string `json:"scheme"`
	Sender         string `json:"sender"`
	Recipient      string `json:"recipient"`
	Algorithm      string `json:"algorithm,omitempty"`
	Plaintext      []byte `json:"plaintext"`
	AdditionalData []byte `json:"additional_data,omitempty"`
	Nonce          []byte `json:"nonce,omitempty"`
}

// EncryptResponse is a sealed message.
type EncryptResponse struct {
	Algorithm  string `json:"algorithm"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Tag        []byte `json:"tag"`
}

// DecryptRequest opens a sealed message from the recipient's side.
type DecryptRequest struct {
	Scheme         string `json:"scheme"`
	Sender         string `json:"sender"`
	Recipient      string `json:"recipient"`
	Algorithm      string `json:"algorithm"`
	Nonce          []byte `json:"nonce"`
	Ciphertext     []byte `json:"ciphertext"`
	Tag            []byte `json:"tag"`
	AdditionalData []byte `json:"additional_data,omitempty"`
}

// DecryptResponse carries the recovered plaintext.
type DecryptResponse struct {
	Plaintext []byte `json:"plaintext"`
}

// StateResponse names the documents saved or loaded.
type StateResponse = keyserver.StateResult
