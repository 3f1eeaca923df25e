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
	"net/http"

	"github.com/jeremyhahn/go-keypredist/pkg/health"
)

// HealthHandler handles GET /health with the aggregate readiness status.
func (h *HandlerContext) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := health.AggregateStatus(h.service.Health().Ready(r.Context()))
	code := http.StatusOK
	if status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, HealthResponse{Status: status, Version: h.version}, code)
}

// LivenessHandler handles GET /health/live.
func (h *HandlerContext) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	result := h.service.Health().Live(r.Context())
	writeCheckResult(w, result)
}

// ReadinessHandler handles GET /health/ready. A degraded service, for
// example one with only one scheme initialized, still serves traffic.
func (h *HandlerContext) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	results := h.service.Health().Ready(r.Context())
	status := health.AggregateStatus(results)

	resp := HealthCheckResponse{Status: status, Checks: results}
	code := http.StatusOK
	switch status {
	case health.StatusHealthy:
		resp.Message = "All checks passed"
	case health.StatusDegraded:
		resp.Message = "Service is degraded"
	case health.StatusUnhealthy:
		resp.Message = "One or more checks failed"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, resp, code)
}

// StartupHandler handles GET /health/startup.
func (h *HandlerContext) StartupHandler(w http.ResponseWriter, r *http.Request) {
	writeCheckResult(w, h.service.Health().Startup(r.Context()))
}

func writeCheckResult(w http.ResponseWriter, result health.CheckResult) {
	code := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, HealthCheckResponse{Status: result.Status, Message: result.Message}, code)
}
