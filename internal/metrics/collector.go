// Package spdmmetrics exposes Prometheus metrics for SPDM connection and
// session activity: negotiation outcomes, authentication results, session
// lifecycle, and record-layer failures.
package spdmmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "spdm"
	subsystem = "core"
)

// Label names for SPDM metrics.
const (
	labelEndpoint  = "endpoint" // peer/transport identifier
	labelVersion   = "version"  // negotiated SPDM version, e.g. "1.2"
	labelFromState = "from_state"
	labelToState   = "to_state"
	labelReason    = "reason" // error kind or failure category
	labelMeasOp    = "operation"
)

// -------------------------------------------------------------------------
// Collector — Prometheus SPDM Metrics
// -------------------------------------------------------------------------

// Collector holds all SPDM Prometheus metrics.
//
// Metrics cover the full connection and session lifecycle:
//   - Connections/Sessions gauges track currently active state machines.
//   - Negotiation counters record version/capability/algorithm outcomes.
//   - Auth counters flag CHALLENGE and FINISH verification failures.
//   - Record layer counters track AEAD decrypt failures and key updates.
type Collector struct {
	// Connections tracks the number of currently active connection state
	// machines. Incremented when a connection is accepted, decremented
	// when it is closed.
	Connections *prometheus.GaugeVec

	// Sessions tracks the number of currently established secure sessions.
	Sessions *prometheus.GaugeVec

	// NegotiationFailures counts failed version/capability/algorithm
	// negotiations per endpoint.
	NegotiationFailures *prometheus.CounterVec

	// ConnStateTransitions counts connection FSM state transitions.
	ConnStateTransitions *prometheus.CounterVec

	// SessionStateTransitions counts session FSM state transitions.
	SessionStateTransitions *prometheus.CounterVec

	// AuthFailures counts CHALLENGE_AUTH and FINISH verify-data/signature
	// failures per endpoint.
	AuthFailures *prometheus.CounterVec

	// DecryptFailures counts AEAD record decrypt/tamper failures, which
	// destroy the owning session on occurrence.
	DecryptFailures *prometheus.CounterVec

	// KeyUpdates counts completed KEY_UPDATE operations per endpoint.
	KeyUpdates *prometheus.CounterVec

	// MeasurementsServed counts GET_MEASUREMENTS requests handled, labeled
	// by the requested operation (total_number, all, or an index).
	MeasurementsServed *prometheus.CounterVec

	// HandshakeDuration observes wall-clock time from KEY_EXCHANGE/
	// PSK_EXCHANGE through session establishment.
	HandshakeDuration *prometheus.HistogramVec
}

// NewCollector creates a Collector with all SPDM metrics registered against
// the provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
//
// All metrics are created with the "spdm_core_" prefix (namespace_subsystem)
// to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Connections,
		c.Sessions,
		c.NegotiationFailures,
		c.ConnStateTransitions,
		c.SessionStateTransitions,
		c.AuthFailures,
		c.DecryptFailures,
		c.KeyUpdates,
		c.MeasurementsServed,
		c.HandshakeDuration,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	endpointLabels := []string{labelEndpoint}
	endpointVersionLabels := []string{labelEndpoint, labelVersion}
	endpointReasonLabels := []string{labelEndpoint, labelReason}
	transitionLabels := []string{labelEndpoint, labelFromState, labelToState}
	measLabels := []string{labelEndpoint, labelMeasOp}

	return &Collector{
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections",
			Help:      "Number of currently active SPDM connection state machines.",
		}, endpointLabels),

		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of currently established SPDM secure sessions.",
		}, endpointVersionLabels),

		NegotiationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "negotiation_failures_total",
			Help:      "Total version/capability/algorithm negotiation failures.",
		}, endpointReasonLabels),

		ConnStateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "conn_state_transitions_total",
			Help:      "Total connection FSM state transitions.",
		}, transitionLabels),

		SessionStateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_state_transitions_total",
			Help:      "Total session FSM state transitions.",
		}, transitionLabels),

		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "auth_failures_total",
			Help:      "Total CHALLENGE_AUTH and FINISH verification failures.",
		}, endpointReasonLabels),

		DecryptFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "decrypt_failures_total",
			Help:      "Total AEAD record decrypt/tamper failures.",
		}, endpointLabels),

		KeyUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "key_updates_total",
			Help:      "Total completed KEY_UPDATE operations.",
		}, endpointLabels),

		MeasurementsServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "measurements_served_total",
			Help:      "Total GET_MEASUREMENTS requests served, by operation.",
		}, measLabels),

		HandshakeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handshake_duration_seconds",
			Help:      "Time from KEY_EXCHANGE/PSK_EXCHANGE to session establishment.",
			Buckets:   prometheus.DefBuckets,
		}, endpointLabels),
	}
}

// -------------------------------------------------------------------------
// Connection Lifecycle
// -------------------------------------------------------------------------

// RegisterConnection increments the active connections gauge for endpoint.
func (c *Collector) RegisterConnection(endpoint string) {
	c.Connections.WithLabelValues(endpoint).Inc()
}

// UnregisterConnection decrements the active connections gauge for endpoint.
func (c *Collector) UnregisterConnection(endpoint string) {
	c.Connections.WithLabelValues(endpoint).Dec()
}

// -------------------------------------------------------------------------
// Session Lifecycle
// -------------------------------------------------------------------------

// RegisterSession increments the active sessions gauge for endpoint, labeled
// with the negotiated SPDM version.
func (c *Collector) RegisterSession(endpoint, version string) {
	c.Sessions.WithLabelValues(endpoint, version).Inc()
}

// UnregisterSession decrements the active sessions gauge for endpoint.
func (c *Collector) UnregisterSession(endpoint, version string) {
	c.Sessions.WithLabelValues(endpoint, version).Dec()
}

// -------------------------------------------------------------------------
// Negotiation and Authentication
// -------------------------------------------------------------------------

// IncNegotiationFailure increments the negotiation failure counter for
// endpoint, labeled with the failure reason (e.g. "no_common_version").
func (c *Collector) IncNegotiationFailure(endpoint, reason string) {
	c.NegotiationFailures.WithLabelValues(endpoint, reason).Inc()
}

// IncAuthFailure increments the authentication failure counter for endpoint,
// labeled with the failure reason (e.g. "verify_data_mismatch",
// "signature_invalid").
func (c *Collector) IncAuthFailure(endpoint, reason string) {
	c.AuthFailures.WithLabelValues(endpoint, reason).Inc()
}

// -------------------------------------------------------------------------
// State Transitions
// -------------------------------------------------------------------------

// RecordConnStateTransition increments the connection state transition
// counter with the old and new state labels.
func (c *Collector) RecordConnStateTransition(endpoint, from, to string) {
	c.ConnStateTransitions.WithLabelValues(endpoint, from, to).Inc()
}

// RecordSessionStateTransition increments the session state transition
// counter with the old and new state labels.
func (c *Collector) RecordSessionStateTransition(endpoint, from, to string) {
	c.SessionStateTransitions.WithLabelValues(endpoint, from, to).Inc()
}

// -------------------------------------------------------------------------
// Record Layer
// -------------------------------------------------------------------------

// IncDecryptFailure increments the decrypt failure counter for endpoint.
// Nothing in this module calls it; Session.Decrypt does not report to the
// collector.
func (c *Collector) IncDecryptFailure(endpoint string) {
	c.DecryptFailures.WithLabelValues(endpoint).Inc()
}

// IncKeyUpdate increments the key update counter for endpoint.
func (c *Collector) IncKeyUpdate(endpoint string) {
	c.KeyUpdates.WithLabelValues(endpoint).Inc()
}

// -------------------------------------------------------------------------
// Measurements
// -------------------------------------------------------------------------

// IncMeasurementsServed increments the measurements-served counter for
// endpoint, labeled with the requested operation.
func (c *Collector) IncMeasurementsServed(endpoint, operation string) {
	c.MeasurementsServed.WithLabelValues(endpoint, operation).Inc()
}

// -------------------------------------------------------------------------
// Handshake Timing
// -------------------------------------------------------------------------

// ObserveHandshakeDuration records the elapsed seconds from KEY_EXCHANGE/
// PSK_EXCHANGE to session establishment for endpoint.
func (c *Collector) ObserveHandshakeDuration(endpoint string, seconds float64) {
	c.HandshakeDuration.WithLabelValues(endpoint).Observe(seconds)
}
