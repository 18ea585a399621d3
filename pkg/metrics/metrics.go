// Package metrics defines the Prometheus instruments exported by intentd.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pario-ai/intentd/pkg/models"
)

const namespace = "intentd"

// Metrics groups the service's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	analysisTotal    *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec
	rpcRequests      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		analysisTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analysis",
				Name:      "total",
				Help:      "Analyses by tool and outcome.",
			},
			[]string{"tool", "outcome"},
		),
		analysisDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "analysis",
				Name:      "duration_seconds",
				Help:      "End-to-end analysis duration, cache hits included.",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "calls_total",
				Help:      "Model backend calls.",
			},
			[]string{"provider", "status"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "call_duration_seconds",
				Help:      "Model backend call duration in seconds.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "status"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "errors_total",
				Help:      "Model backend errors by type.",
			},
			[]string{"provider", "error_type"},
		),
		rpcRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "JSON-RPC requests by method and reply code (0 for success).",
			},
			[]string{"method", "code"},
		),
	}
	reg.MustRegister(
		m.analysisTotal,
		m.analysisDuration,
		m.providerCalls,
		m.providerDuration,
		m.providerErrors,
		m.rpcRequests,
	)
	return m
}

// ObserveAnalysis records one finished analysis.
func (m *Metrics) ObserveAnalysis(tool string, outcome models.Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.analysisTotal.WithLabelValues(tool, string(outcome)).Inc()
	m.analysisDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveProviderCall records one backend call.
func (m *Metrics) ObserveProviderCall(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		m.providerErrors.WithLabelValues(provider, ClassifyError(err)).Inc()
	}
	m.providerCalls.WithLabelValues(provider, status).Inc()
	m.providerDuration.WithLabelValues(provider, status).Observe(d.Seconds())
}

// ObserveRPC records one JSON-RPC reply.
func (m *Metrics) ObserveRPC(method string, code int) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(method, itoa(code)).Inc()
}

// ClassifyError maps an error to a low-cardinality label value.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unavailable"):
		return "unavailable"
	case strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "status 401") ||
		strings.Contains(msg, "status 403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "api key"):
		return "auth"
	case strings.Contains(msg, "status 429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "throttl"):
		return "rate_limit"
	case strings.Contains(msg, "status 5"):
		return "server"
	default:
		return "unknown"
	}
}

func itoa(code int) string {
	switch code {
	case 0:
		return "0"
	case -32700:
		return "-32700"
	case -32600:
		return "-32600"
	case -32601:
		return "-32601"
	case -32602:
		return "-32602"
	case -32603:
		return "-32603"
	default:
		return "other"
	}
}
