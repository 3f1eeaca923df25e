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
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-keypredist/pkg/keyserver"
	"github.com/jeremyhahn/go-keypredist/pkg/logging"
	"github.com/jeremyhahn/go-keypredist/pkg/matrix"
	"github.com/jeremyhahn/go-keypredist/pkg/pool"
	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

// HandlerContext holds the dependencies of the HTTP handlers.
type HandlerContext struct {
	service *keyserver.Service
	logger  *logging.Logger
	version string
}

// NewHandlerContext creates handlers over service.
func NewHandlerContext(service *keyserver.Service, logger *logging.Logger, version string) *HandlerContext {
	return &HandlerContext{service: service, logger: logger, version: version}
}

// InitPoolHandler handles POST /api/v1/pool.
func (h *HandlerContext) InitPoolHandler(w http.ResponseWriter, r *http.Request) {
	var req InitPoolRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	if err := h.service.InitPool(req.PoolSize, req.KeysPerUser); err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, PoolInfo{PoolSize: req.PoolSize, KeysPerUser: req.KeysPerUser}, http.StatusCreated)
}

// GetPoolHandler handles GET /api/v1/pool.
func (h *HandlerContext) GetPoolHandler(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.PoolConfig()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	users, err := h.service.PoolUsers()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, PoolInfo{PoolSize: cfg.PoolSize, KeysPerUser: cfg.KeysPerUser, Users: len(users)}, http.StatusOK)
}

// ListKeysHandler handles GET /api/v1/pool/keys. The optional ids query
// parameter is a comma separated list.
func (h *HandlerContext) ListKeysHandler(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDs(r.URL.Query().Get("ids"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	keys, err := h.service.PoolKeys(ids...)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	resp := ListKeysResponse{Keys: make([]KeyInfo, len(keys))}
	for i, key := range keys {
		resp.Keys[i] = KeyInfo{KeyID: key.ID, Value: key.Hex()}
	}
	writeJSON(w, resp, http.StatusOK)
}

// RegisterPoolUserHandler handles POST /api/v1/pool/users.
func (h *HandlerContext) RegisterPoolUserHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	user, err := h.service.RegisterPoolUser(req.UserID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, poolUserInfo(user), http.StatusCreated)
}

// ListPoolUsersHandler handles GET /api/v1/pool/users.
func (h *HandlerContext) ListPoolUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.PoolUsers()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	resp := ListPoolUsersResponse{Users: make([]PoolUserInfo, len(users))}
	for i, u := range users {
		resp.Users[i] = poolUserInfo(u)
	}
	writeJSON(w, resp, http.StatusOK)
}

// GetPoolUserHandler handles GET /api/v1/pool/users/{id}.
func (h *HandlerContext) GetPoolUserHandler(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.PoolUser(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, poolUserInfo(user), http.StatusOK)
}

// CommonKeysHandler handles GET /api/v1/pool/common?a=..&b=..
func (h *HandlerContext) CommonKeysHandler(w http.ResponseWriter, r *http.Request) {
	a, b, err := userPair(r, "a", "b")
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	ids, err := h.service.CommonKeyIDs(a, b)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, CommonKeysResponse{A: a, B: b, KeyIDs: ids}, http.StatusOK)
}

// DeriveHandler handles GET /api/v1/pool/derive?a=..&b=..
func (h *HandlerContext) DeriveHandler(w http.ResponseWriter, r *http.Request) {
	a, b, err := userPair(r, "a", "b")
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	secret, ok, err := h.service.DeriveSecret(a, b)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	resp := DeriveResponse{A: a, B: b, Shared: ok}
	if ok {
		resp.Secret = secret.Hex()
	}
	writeJSON(w, resp, http.StatusOK)
}

// OverlapHandler handles GET /api/v1/pool/overlap.
func (h *HandlerContext) OverlapHandler(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.OverlapMatrix()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, m, http.StatusOK)
}

// AssignmentHandler handles GET /api/v1/pool/assignment.
func (h *HandlerContext) AssignmentHandler(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.AssignmentMatrix()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, m, http.StatusOK)
}

// InitMatrixHandler handles POST /api/v1/matrix.
func (h *HandlerContext) InitMatrixHandler(w http.ResponseWriter, r *http.Request) {
	var req InitMatrixRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	var prime *big.Int
	if req.Prime != "" {
		p, ok := new(big.Int).SetString(req.Prime, 10)
		if !ok {
			h.handleError(w, r, fmt.Errorf("%w: prime %q is not a decimal integer", types.ErrInvalidParameters, req.Prime))
			return
		}
		prime = p
	}
	if err := h.service.InitMatrix(prime, req.Dimension); err != nil {
		h.handleError(w, r, err)
		return
	}
	p, dim, err := h.service.MatrixParameters()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, MatrixInfo{Prime: p.String(), Dimension: dim}, http.StatusCreated)
}

// GetMatrixHandler handles GET /api/v1/matrix.
func (h *HandlerContext) GetMatrixHandler(w http.ResponseWriter, r *http.Request) {
	p, dim, err := h.service.MatrixParameters()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	users, err := h.service.MatrixUsers()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, MatrixInfo{Prime: p.String(), Dimension: dim, Users: len(users)}, http.StatusOK)
}

// RegisterMatrixUserHandler handles POST /api/v1/matrix/users. The response
// is the only place the secret vector is returned.
func (h *HandlerContext) RegisterMatrixUserHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	user, err := h.service.RegisterMatrixUser(req.UserID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	info := matrixUserInfo(user)
	info.SecretVector = decimals(user.Secret)
	writeJSON(w, info, http.StatusCreated)
}

// ListMatrixUsersHandler handles GET /api/v1/matrix/users.
func (h *HandlerContext) ListMatrixUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.MatrixUsers()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	resp := ListMatrixUsersResponse{Users: make([]MatrixUserInfo, len(users))}
	for i, u := range users {
		resp.Users[i] = matrixUserInfo(u)
	}
	writeJSON(w, resp, http.StatusOK)
}

// GetMatrixUserHandler handles GET /api/v1/matrix/users/{id}.
func (h *HandlerContext) GetMatrixUserHandler(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.MatrixUser(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, matrixUserInfo(user), http.StatusOK)
}

// SharedValueHandler handles GET /api/v1/matrix/shared.
func (h *HandlerContext) SharedValueHandler(w http.ResponseWriter, r *http.Request) {
	requester, other, err := userPair(r, "requester", "other")
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	value, err := h.service.SharedValue(requester, other)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, SharedValueResponse{Requester: requester, Other: other, Value: value.String()}, http.StatusOK)
}

// MatrixKeyHandler handles GET /api/v1/matrix/key.
func (h *HandlerContext) MatrixKeyHandler(w http.ResponseWriter, r *http.Request) {
	requester, other, err := userPair(r, "requester", "other")
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	size := 0
	if raw := r.URL.Query().Get("size"); raw != "" {
		size, err = strconv.Atoi(raw)
		if err != nil {
			h.handleError(w, r, fmt.Errorf("%w: size %q", ErrInvalidRequest, raw))
			return
		}
	}
	key, err := h.service.MatrixKey(requester, other, size)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, MatrixKeyResponse{Requester: requester, Other: other, Key: hex.EncodeToString(key)}, http.StatusOK)
}

// EncryptHandler handles POST /api/v1/encrypt.
func (h *HandlerContext) EncryptHandler(w http.ResponseWriter, r *http.Request) {
	var req EncryptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	scheme, err := types.ParseScheme(req.Scheme)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	data, err := h.service.Encrypt(&keyserver.EncryptRequest{
		Scheme:         scheme,
		Sender:         req.Sender,
		Recipient:      req.Recipient,
		Algorithm:      types.SymmetricAlgorithm(req.Algorithm),
		Plaintext:      req.Plaintext,
		AdditionalData: req.AdditionalData,
		Nonce:          req.Nonce,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, EncryptResponse{
		Algorithm:  data.Algorithm,
		Nonce:      data.Nonce,
		Ciphertext: data.Ciphertext,
		Tag:        data.Tag,
	}, http.StatusOK)
}

// DecryptHandler handles POST /api/v1/decrypt.
func (h *HandlerContext) DecryptHandler(w http.ResponseWriter, r *http.Request) {
	var req DecryptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	scheme, err := types.ParseScheme(req.Scheme)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	plaintext, err := h.service.Decrypt(&keyserver.DecryptRequest{
		Scheme:    scheme,
		Sender:    req.Sender,
		Recipient: req.Recipient,
		Data: &types.EncryptedData{
			Algorithm:  req.Algorithm,
			Nonce:      req.Nonce,
			Ciphertext: req.Ciphertext,
			Tag:        req.Tag,
		},
		AdditionalData: req.AdditionalData,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, DecryptResponse{Plaintext: plaintext}, http.StatusOK)
}

// SaveStateHandler handles POST /api/v1/state/save.
func (h *HandlerContext) SaveStateHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.SaveState()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, result, http.StatusOK)
}

// LoadStateHandler handles POST /api/v1/state/load.
func (h *HandlerContext) LoadStateHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.LoadState()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, result, http.StatusOK)
}

func userPair(r *http.Request, first, second string) (string, string, error) {
	q := r.URL.Query()
	a, b := q.Get(first), q.Get(second)
	if a == "" || b == "" {
		return "", "", fmt.Errorf("%w: %s and %s are required", ErrMissingUser, first, second)
	}
	return a, b, nil
}

func parseIDs(raw string) ([]int, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%w: key id %q", ErrInvalidRequest, part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func poolUserInfo(u pool.User) PoolUserInfo {
	ids := u.KeyIDs
	if ids == nil {
		ids = []int{}
	}
	return PoolUserInfo{UserID: u.ID, KeyIDs: ids}
}

func matrixUserInfo(u matrix.User) MatrixUserInfo {
	return MatrixUserInfo{UserID: u.ID, PublicVector: decimals(u.Public)}
}

func decimals(v []*big.Int) []string {
	out := make([]string, len(v))
	for i, x := range v {
		out[i] = x.String()
	}
	return out
}
