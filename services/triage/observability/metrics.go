// Copyright (C) 2025 Verdant Ops (engineering@verdantops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the triage service.
//
// # Description
//
// Metrics cover the ticket pipeline end to end:
//   - Tickets processed (by processing mode and outcome)
//   - Auto-replies served
//   - Guardrail blocks and output-guardrail failures
//   - Reasoner fallbacks to the deterministic path
//   - Pipeline duration histogram
//   - Active conversation gauge
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "supportpilot"

const pipelineSubsystem = "pipeline"

// Ticket outcomes used as the outcome label on TicketsTotal.
const (
	OutcomeProcessed = "processed"
	OutcomeAutoReply = "auto_reply"
	OutcomeBlocked   = "blocked"
	OutcomeInvalid   = "invalid"
)

// PipelineMetrics holds all Prometheus metrics for ticket processing.
// Initialize once at startup via InitMetrics().
type PipelineMetrics struct {
	// TicketsTotal counts processed tickets.
	// Labels: mode (mock, real), outcome (processed, auto_reply, blocked, invalid)
	TicketsTotal *prometheus.CounterVec

	// ReasonerFallbacksTotal counts deterministic fallbacks by stage.
	// Labels: stage (triage, reply, guardrail, monitoring)
	ReasonerFallbacksTotal *prometheus.CounterVec

	// GuardrailIssuesTotal counts guardrail findings.
	// Labels: check (input, output), disposition (flagged, blocked, fixed)
	GuardrailIssuesTotal *prometheus.CounterVec

	// PipelineDurationSeconds measures end-to-end processing time.
	// Labels: mode
	PipelineDurationSeconds *prometheus.HistogramVec

	// ActiveConversations tracks open multi-turn threads.
	ActiveConversations prometheus.Gauge

	// MonitoringEventsTotal counts generated monitoring events.
	// Labels: flagged (true, false)
	MonitoringEventsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of PipelineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *PipelineMetrics

// InitMetrics creates and registers all Prometheus metrics. Call once at
// application startup; a second call panics on duplicate registration.
func InitMetrics() *PipelineMetrics {
	DefaultMetrics = &PipelineMetrics{
		TicketsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "tickets_total",
				Help:      "Total tickets processed by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),

		ReasonerFallbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "reasoner_fallbacks_total",
				Help:      "Total deterministic fallbacks after reasoner failure, by stage",
			},
			[]string{"stage"},
		),

		GuardrailIssuesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "guardrail_issues_total",
				Help:      "Total guardrail findings by check and disposition",
			},
			[]string{"check", "disposition"},
		),

		PipelineDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "duration_seconds",
				Help:      "End-to-end ticket processing duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"mode"},
		),

		ActiveConversations: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "active_conversations",
				Help:      "Number of open multi-turn conversations",
			},
		),

		MonitoringEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "monitoring",
				Name:      "events_total",
				Help:      "Total synthetic monitoring events by flagged state",
			},
			[]string{"flagged"},
		),
	}

	return DefaultMetrics
}
