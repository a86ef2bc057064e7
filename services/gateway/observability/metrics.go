// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the gateway.
//
// # Description
//
// Metrics cover the websocket session lifecycle and the token relay path:
// active sessions, envelopes by type, relayed tokens, admission denials,
// stream durations and upstream failures. Exposed via /metrics; all
// operations are thread-safe through Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "seya"
	gatewaySubsystem = "gateway"
)

// GatewayMetrics holds all Prometheus metrics for the chat gateway.
//
// # Fields
//
//   - ActiveSessions: Gauge of currently open websocket sessions.
//   - EnvelopesTotal: Counter of outbound envelopes by type.
//   - CommandsTotal: Counter of inbound commands by type.
//   - TokensRelayedTotal: Counter of tokens forwarded to clients.
//   - RateLimitDeniedTotal: Counter of admissions rejected by the limiter.
//   - StreamDurationSeconds: Histogram of call duration by outcome.
//   - UpstreamErrorsTotal: Counter of backend call failures by reason.
type GatewayMetrics struct {
	ActiveSessions        prometheus.Gauge
	EnvelopesTotal        *prometheus.CounterVec
	CommandsTotal         *prometheus.CounterVec
	TokensRelayedTotal    prometheus.Counter
	RateLimitDeniedTotal  prometheus.Counter
	StreamDurationSeconds *prometheus.HistogramVec
	UpstreamErrorsTotal   *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, initialized by InitMetrics.
// Callers nil-check it so tests can run without a registry.
var DefaultMetrics *GatewayMetrics

// InitMetrics registers all gateway metrics with the default registry.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *GatewayMetrics {
	DefaultMetrics = &GatewayMetrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "active_sessions",
			Help:      "Number of currently open websocket sessions",
		}),
		EnvelopesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "envelopes_total",
			Help:      "Outbound envelopes by type",
		}, []string{"type"}),
		CommandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "commands_total",
			Help:      "Inbound command envelopes by type",
		}, []string{"type"}),
		TokensRelayedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "tokens_relayed_total",
			Help:      "Tokens forwarded from the LLM service to clients",
		}),
		RateLimitDeniedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "rate_limit_denied_total",
			Help:      "Start commands rejected by admission control",
		}),
		StreamDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "stream_duration_seconds",
			Help:      "Duration of backend streaming calls by outcome",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"outcome"}),
		UpstreamErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "upstream_errors_total",
			Help:      "Backend call failures by reason",
		}, []string{"reason"}),
	}
	return DefaultMetrics
}

// SessionOpened increments the active session gauge.
func (m *GatewayMetrics) SessionOpened() { m.ActiveSessions.Inc() }

// SessionClosed decrements the active session gauge.
func (m *GatewayMetrics) SessionClosed() { m.ActiveSessions.Dec() }

// RecordEnvelope counts one outbound envelope.
func (m *GatewayMetrics) RecordEnvelope(envelopeType string) {
	m.EnvelopesTotal.WithLabelValues(envelopeType).Inc()
}

// RecordCommand counts one inbound command.
func (m *GatewayMetrics) RecordCommand(commandType string) {
	m.CommandsTotal.WithLabelValues(commandType).Inc()
}

// RecordStream records one finished backend call.
func (m *GatewayMetrics) RecordStream(outcome string, seconds float64) {
	m.StreamDurationSeconds.WithLabelValues(outcome).Observe(seconds)
}

// RecordUpstreamError counts one backend failure.
func (m *GatewayMetrics) RecordUpstreamError(reason string) {
	m.UpstreamErrorsTotal.WithLabelValues(reason).Inc()
}
