// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability holds the orchestrator's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "cairn"
	subsystem = "orchestrator"
)

// =============================================================================
// Struct Definition
// =============================================================================

// Metrics bundles every metric the orchestrator records.
//
// DefaultMetrics is nil until Init runs; recording sites nil-check it so
// unit tests need no registry.
type Metrics struct {
	TurnsTotal           *prometheus.CounterVec
	TurnDurationSeconds  prometheus.Histogram
	EventsEmittedTotal   *prometheus.CounterVec
	EventsDroppedTotal   *prometheus.CounterVec
	ToolInvocationsTotal *prometheus.CounterVec
	ToolDurationSeconds  *prometheus.HistogramVec
	ActiveStreams        prometheus.Gauge
	ActiveSessions       prometheus.Gauge
}

// DefaultMetrics is the process-wide metrics instance, set by Init.
var DefaultMetrics *Metrics

// Init registers all metrics with the given registerer and installs the
// result as DefaultMetrics. Call once at startup.
func Init(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "turns_total",
			Help:      "Turns started, labeled by final outcome.",
		}, []string{"outcome"}),

		TurnDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "turn_duration_seconds",
			Help:      "Wall time from turn start to turn end.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		EventsEmittedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_emitted_total",
			Help:      "Stream events delivered to a sink, labeled by type.",
		}, []string{"type"}),

		EventsDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_dropped_total",
			Help:      "Stream events dropped before delivery, labeled by reason.",
		}, []string{"reason"}),

		ToolInvocationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tool_invocations_total",
			Help:      "Tool invocations, labeled by tool and status.",
		}, []string{"tool", "status"}),

		ToolDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tool_duration_seconds",
			Help:      "Tool execution wall time, labeled by tool.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"tool"}),

		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_streams",
			Help:      "Client event streams currently attached.",
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_sessions",
			Help:      "Sessions currently held in memory.",
		}),
	}

	DefaultMetrics = m
	return m
}
