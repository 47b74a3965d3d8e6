// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the query
// pipeline. Metrics include:
//   - Turn counters by terminal outcome (answered, clarification, rejected, error)
//   - Generation-call counters by model tier and status
//   - Warehouse query latency histograms
//   - End-to-end turn duration histograms
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "insightx"

const pipelineSubsystem = "pipeline"

// Terminal outcome label values for TurnsTotal.
const (
	OutcomeAnswered      = "answered"
	OutcomeClarification = "clarification"
	OutcomeNonData       = "non_data"
	OutcomeCompound      = "compound"
	OutcomeRejected      = "rejected"
	OutcomeEmpty         = "empty_result"
	OutcomeError         = "error"
)

// PipelineMetrics holds all Prometheus metrics for query pipeline operations.
//
// # Description
//
// Provides counters and histograms for monitoring pipeline throughput and
// failure modes. Initialize once at startup via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type PipelineMetrics struct {
	// TurnsTotal counts processed turns by terminal outcome.
	// Labels: outcome (answered, clarification, non_data, compound,
	// rejected, empty_result, error)
	TurnsTotal *prometheus.CounterVec

	// GenerationCallsTotal counts generation-collaborator calls.
	// Labels: tier (primary, fallback), status (success, error)
	GenerationCallsTotal *prometheus.CounterVec

	// QueryDurationSeconds measures warehouse query execution latency.
	QueryDurationSeconds prometheus.Histogram

	// TurnDurationSeconds measures end-to-end turn processing latency.
	// Labels: outcome
	TurnDurationSeconds *prometheus.HistogramVec
}

// DefaultMetrics is the singleton instance of PipelineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *PipelineMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *PipelineMetrics {
	DefaultMetrics = &PipelineMetrics{
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "turns_total",
				Help:      "Total processed turns by terminal outcome",
			},
			[]string{"outcome"},
		),

		GenerationCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "generation_calls_total",
				Help:      "Total generation-collaborator calls by model tier and status",
			},
			[]string{"tier", "status"},
		),

		QueryDurationSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "query_duration_seconds",
				Help:      "Warehouse query execution latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),

		TurnDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "turn_duration_seconds",
				Help:      "End-to-end turn processing latency in seconds",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),
	}
	return DefaultMetrics
}

// RecordTurn increments the turn counter and observes turn duration for a
// terminal outcome. Safe to call with a nil receiver so the pipeline works
// without metrics in tests.
func (m *PipelineMetrics) RecordTurn(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDurationSeconds.WithLabelValues(outcome).Observe(seconds)
}

// RecordGenerationCall increments the generation-call counter.
// Safe to call with a nil receiver.
func (m *PipelineMetrics) RecordGenerationCall(tier, status string) {
	if m == nil {
		return
	}
	m.GenerationCallsTotal.WithLabelValues(tier, status).Inc()
}

// RecordQueryDuration observes one warehouse query latency.
// Safe to call with a nil receiver.
func (m *PipelineMetrics) RecordQueryDuration(seconds float64) {
	if m == nil {
		return
	}
	m.QueryDurationSeconds.Observe(seconds)
}
