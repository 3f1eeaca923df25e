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

// Package metrics exposes Prometheus instrumentation for the key
// predistribution services.
package metrics

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

const (
	// Namespace prefixes every metric name.
	Namespace = "kps"

	LabelOperation  = "operation"
	LabelScheme     = "scheme"
	LabelStatus     = "status"
	LabelErrorType  = "error_type"
	LabelProtocol   = "protocol"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	StatusSuccess = "success"
	StatusError   = "error"

	OpGenerate = "generate"
	OpRegister = "register"
	OpDerive   = "derive"
	OpShared   = "shared_value"
	OpEncrypt  = "encrypt"
	OpDecrypt  = "decrypt"
	OpSave     = "save"
	OpLoad     = "load"
)

var (
	// OperationsTotal counts operations by type, scheme and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of key predistribution operations by type, scheme, and status",
		},
		[]string{LabelOperation, LabelScheme, LabelStatus},
	)

	// OperationDuration tracks operation latency.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of key predistribution operations in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{LabelOperation, LabelScheme},
	)

	// ErrorsTotal counts failed operations by error kind.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation, scheme, and error type",
		},
		[]string{LabelOperation, LabelScheme, LabelErrorType},
	)

	// UsersTotal is the number of registered users per scheme.
	UsersTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "users_total",
			Help:      "Number of registered users per scheme",
		},
		[]string{LabelScheme},
	)

	// PoolKeys is the size of the generated key pool.
	PoolKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pool_keys",
			Help:      "Number of keys in the generated key pool",
		},
	)

	// ActiveConnections tracks in-flight requests per protocol.
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Number of active connections by protocol",
		},
		[]string{LabelProtocol},
	)

	// HTTPRequestsTotal counts HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// GRPCRequestsTotal counts gRPC requests.
	GRPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "Total number of gRPC requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// GRPCRequestDuration tracks gRPC request latency.
	GRPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "Duration of gRPC requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// ServerUptime is refreshed by the runtime collector.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// Goroutines is refreshed by the runtime collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordOperation records a completed operation and its duration.
func RecordOperation(operation, scheme, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, scheme, status).Inc()
	OperationDuration.WithLabelValues(operation, scheme).Observe(duration)
}

// RecordError records a failed operation classified by ErrorType.
func RecordError(operation, scheme string, err error) {
	if !enabled.Load() || err == nil {
		return
	}
	ErrorsTotal.WithLabelValues(operation, scheme, ErrorType(err)).Inc()
}

// Track starts timing an operation. The returned function records the
// outcome and should be deferred with the operation's final error.
//
//	done := metrics.Track(metrics.OpRegister, "pool")
//	defer func() { done(err) }()
func Track(operation, scheme string) func(err error) {
	start := time.Now()
	return func(err error) {
		status := StatusSuccess
		if err != nil {
			status = StatusError
			RecordError(operation, scheme, err)
		}
		RecordOperation(operation, scheme, status, time.Since(start).Seconds())
	}
}

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// RecordGRPCRequest records a served gRPC request. method is the full
// method name, e.g. "/kps.v1.KeyPredistribution/DeriveSecret".
func RecordGRPCRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	GRPCRequestsTotal.WithLabelValues(method, statusCode).Inc()
	GRPCRequestDuration.WithLabelValues(method).Observe(duration)
}

// IncrementActiveConnections increments the in-flight gauge for protocol.
func IncrementActiveConnections(protocol string) {
	if !enabled.Load() {
		return
	}
	ActiveConnections.WithLabelValues(protocol).Inc()
}

// DecrementActiveConnections decrements the in-flight gauge for protocol.
func DecrementActiveConnections(protocol string) {
	if !enabled.Load() {
		return
	}
	ActiveConnections.WithLabelValues(protocol).Dec()
}

// SetUsers sets the registered user count for scheme.
func SetUsers(scheme string, count int) {
	if !enabled.Load() {
		return
	}
	UsersTotal.WithLabelValues(scheme).Set(float64(count))
}

// SetPoolKeys sets the pool size gauge.
func SetPoolKeys(count int) {
	if !enabled.Load() {
		return
	}
	PoolKeys.Set(float64(count))
}

// ErrorType maps an error to a low-cardinality label value.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, types.ErrInsufficientPool):
		return "insufficient_pool"
	case errors.Is(err, types.ErrInvalidParameters):
		return "invalid_parameters"
	case errors.Is(err, types.ErrEmptyPool):
		return "empty_pool"
	case errors.Is(err, types.ErrUninitializedMatrix):
		return "uninitialized_matrix"
	case errors.Is(err, types.ErrUnknownUser):
		return "unknown_user"
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, types.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, types.ErrInvalidAlgorithm):
		return "invalid_algorithm"
	case errors.Is(err, types.ErrNoSharedKeys):
		return "no_shared_keys"
	default:
		return "internal"
	}
}

// Enable turns metric recording on.
func Enable() {
	enabled.Store(true)
}

// Disable turns metric recording off.
func Disable() {
	enabled.Store(false)
}

// IsEnabled reports whether metrics are being recorded.
func IsEnabled() bool {
	return enabled.Load()
}
