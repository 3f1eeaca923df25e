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

// Package rest serves the key predistribution authority over HTTP.
//
// # Routes
//
// Health checks and metrics are unauthenticated:
//
//	GET  /health               overall status and version
//	GET  /health/live          liveness check
//	GET  /health/ready         readiness checks (pool, matrix, storage, rng)
//	GET  /health/startup       startup check
//	GET  /metrics              Prometheus exposition
//
// The key pool scheme:
//
//	POST /api/v1/pool                      generate {pool_size, keys_per_user}
//	GET  /api/v1/pool                      current parameters
//	GET  /api/v1/pool/keys?ids=1,5         key values (hex)
//	GET  /api/v1/pool/users                registered key rings
//	POST /api/v1/pool/users                register {user_id}
//	GET  /api/v1/pool/users/{id}           one key ring
//	GET  /api/v1/pool/common?a=..&b=..     common key ids
//	GET  /api/v1/pool/derive?a=..&b=..     shared secret
//	GET  /api/v1/pool/overlap              pairwise common-key counts
//	GET  /api/v1/pool/assignment           user by key membership
//
// The symmetric matrix scheme:
//
//	POST /api/v1/matrix                    generate {prime, dimension}
//	GET  /api/v1/matrix                    current parameters
//	GET  /api/v1/matrix/users              public vectors
//	POST /api/v1/matrix/users              register {user_id}
//	GET  /api/v1/matrix/users/{id}         one public vector
//	GET  /api/v1/matrix/shared?requester=..&other=..
//	GET  /api/v1/matrix/key?requester=..&other=..&size=32
//
// Encryption and persistence:
//
//	POST /api/v1/encrypt                   seal with a pairwise key
//	POST /api/v1/decrypt                   open from the recipient's side
//	POST /api/v1/state/save
//	POST /api/v1/state/load
//
// Errors are returned as {"error": "...", "code": N}. Binary fields are
// base64 in JSON; key material is hex.
package rest
