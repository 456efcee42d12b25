// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines the Prometheus collectors exported by
// hwlink-server. Every method is safe on a nil *Metrics, so components
// constructed without metrics (most tests) need no special casing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hwlink"

// Metrics holds the server's collectors.
type Metrics struct {
	registry *prometheus.Registry

	sessionsAccepted prometheus.Counter
	handovers        prometheus.Counter
	activeSessions   prometheus.Gauge
	staleDrained     *prometheus.CounterVec
	bytesForwarded   *prometheus.CounterVec
	relayReconnects  *prometheus.CounterVec
	relayDropped     prometheus.Counter
	stateDropped     *prometheus.CounterVec
}

// New creates a Metrics instance registered on a fresh registry, plus
// the Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		sessionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "direct_sessions_accepted_total",
			Help:      "Direct sessions accepted by the bridge.",
		}),
		handovers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "direct_session_handovers_total",
			Help:      "Active sessions replaced by a newer session.",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "direct_sessions_active",
			Help:      "Direct sessions currently pumping (0 or 1).",
		}),
		staleDrained: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_items_drained_total",
			Help:      "State items discarded as stale before a consumer attached.",
		}, []string{"consumer"}),
		bytesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_forwarded_total",
			Help:      "Bytes moved between the backend and remote peers.",
		}, []string{"direction"}),
		relayReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_connect_attempts_total",
			Help:      "Relay connection attempts by loop and outcome.",
		}, []string{"loop", "outcome"}),
		relayDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_commands_dropped_total",
			Help:      "Relay commands dropped because a direct command was pending.",
		}),
		stateDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_state_dropped_total",
			Help:      "Backend state items dropped by a full queue or a stopping consumer.",
		}, []string{"queue"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SessionAccepted counts a newly accepted direct session.
func (m *Metrics) SessionAccepted() {
	if m == nil {
		return
	}
	m.sessionsAccepted.Inc()
}

// Handover counts an active session being replaced.
func (m *Metrics) Handover() {
	if m == nil {
		return
	}
	m.handovers.Inc()
}

// SessionStarted and SessionStopped track the active session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionStopped() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// StaleDrained counts n state items discarded by consumer ("session"
// or "relay").
func (m *Metrics) StaleDrained(consumer string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.staleDrained.WithLabelValues(consumer).Add(float64(n))
}

// Forwarded counts n bytes moved in direction ("to_network",
// "to_backend", "to_relay", "from_relay").
func (m *Metrics) Forwarded(direction string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.bytesForwarded.WithLabelValues(direction).Add(float64(n))
}

// RelayConnect counts a relay connection attempt. loop is "publisher"
// or "subscriber"; ok reports whether it succeeded.
func (m *Metrics) RelayConnect(loop string, ok bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.relayReconnects.WithLabelValues(loop, outcome).Inc()
}

// RelayCommandDropped counts a relay command that lost arbitration.
func (m *Metrics) RelayCommandDropped() {
	if m == nil {
		return
	}
	m.relayDropped.Inc()
}

// StateDropped counts a state item dropped from queue ("session" or
// "relay").
func (m *Metrics) StateDropped(queue string) {
	if m == nil {
		return
	}
	m.stateDropped.WithLabelValues(queue).Inc()
}
