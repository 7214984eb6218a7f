// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "vault"
	metricsSubsystem = "reconciler"
)

// Metrics are the Prometheus collectors for the reconciliation loop.
type Metrics struct {
	// CyclesTotal counts finished cycles by result (ok, failed, empty).
	CyclesTotal *prometheus.CounterVec

	// UsersTotal counts processed users by outcome (completed, failed, no_data).
	UsersTotal *prometheus.CounterVec

	// CycleDuration records wall time per cycle.
	CycleDuration prometheus.Histogram

	// Candidates is the candidate count of the latest cycle.
	Candidates prometheus.Gauge

	// Running is 1 while a cycle holds the guard.
	Running prometheus.Gauge

	// SkippedTicksTotal counts scheduled ticks dropped because a cycle was running.
	SkippedTicksTotal prometheus.Counter

	// InvalidIDs is the number of primary-store ids the latest cycle skipped
	// for failing validation.
	InvalidIDs prometheus.Gauge
}

// NewMetrics creates and registers the collectors with reg.
//
// # Description
//
// A nil reg registers with a private registry, which keeps tests that
// build several reconcilers from colliding on duplicate registration.
//
// # Limitations
//
//   - Panics if called twice with the same registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		CyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "cycles_total",
				Help:      "Finished reconciliation cycles by result",
			},
			[]string{"result"},
		),
		UsersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "users_total",
				Help:      "Processed users by outcome",
			},
			[]string{"outcome"},
		),
		CycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "cycle_duration_seconds",
				Help:      "Reconciliation cycle duration",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		Candidates: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "candidates",
				Help:      "Unprocessed users found by the latest cycle",
			},
		),
		Running: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "running",
				Help:      "1 while a reconciliation cycle is running",
			},
		),
		SkippedTicksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "skipped_ticks_total",
				Help:      "Scheduled ticks skipped because a cycle was already running",
			},
		),

		InvalidIDs: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "invalid_ids",
				Help:      "Primary-store ids skipped by the latest cycle because they fail validation",
			},
		),
	}
}
