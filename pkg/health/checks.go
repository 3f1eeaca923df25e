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

package health

import (
	"context"
	"fmt"

	"github.com/jeremyhahn/go-keypredist/pkg/crypto/rand"
	"github.com/jeremyhahn/go-keypredist/pkg/matrix"
	"github.com/jeremyhahn/go-keypredist/pkg/pool"
	"github.com/jeremyhahn/go-keypredist/pkg/storage"
)

const healthKey = ".health"

// PoolCheck reports whether a key pool has been generated. current is
// called on every check so a reloaded authority is observed.
func PoolCheck(current func() *pool.Authority) CheckFunc {
	return func(_ context.Context) CheckResult {
		a := current()
		switch {
		case a == nil:
			return CheckResult{Name: "pool", Status: StatusDegraded, Message: "pool not initialized"}
		case !a.Pool.Generated():
			return CheckResult{Name: "pool", Status: StatusUnhealthy, Message: "pool not generated"}
		}
		return CheckResult{
			Name:    "pool",
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%d keys, %d users", a.Pool.Size(), a.Registry.Len()),
		}
	}
}

// MatrixCheck reports whether a symmetric matrix is available.
func MatrixCheck(current func() *matrix.Authority) CheckFunc {
	return func(_ context.Context) CheckResult {
		a := current()
		if a == nil || a.Matrix() == nil {
			return CheckResult{Name: "matrix", Status: StatusDegraded, Message: "matrix not initialized"}
		}
		return CheckResult{
			Name:    "matrix",
			Status:  StatusHealthy,
			Message: fmt.Sprintf("dimension %d, %d users", a.Dimension(), a.Registry.Len()),
		}
	}
}

// RNGCheck reports whether the randomness source can still be read.
func RNGCheck(resolver rand.Resolver) CheckFunc {
	return func(_ context.Context) CheckResult {
		if !resolver.Available() {
			return CheckResult{
				Name:    "rng",
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("%s source unavailable", resolver.Mode()),
			}
		}
		return CheckResult{Name: "rng", Status: StatusHealthy, Message: string(resolver.Mode())}
	}
}

// StorageCheck queries the state backend with an existence lookup.
func StorageCheck(backend storage.Backend) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if err := ctx.Err(); err != nil {
			return CheckResult{Name: "storage", Status: StatusUnhealthy, Error: err.Error()}
		}
		if _, err := backend.Exists(healthKey); err != nil {
			return CheckResult{
				Name:    "storage",
				Status:  StatusUnhealthy,
				Message: "state backend unavailable",
				Error:   err.Error(),
			}
		}
		return CheckResult{Name: "storage", Status: StatusHealthy}
	}
}
