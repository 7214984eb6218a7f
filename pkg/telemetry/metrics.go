// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// LookupMetrics are the OTel instruments recorded by the aggregator.
type LookupMetrics struct {
	// Outcomes counts settled lookups by slot and result (found, empty, error).
	Outcomes metric.Int64Counter

	// Duration records lookup duration in seconds by slot.
	Duration metric.Float64Histogram
}

// NewLookupMetrics registers the lookup instruments with meter.
//
//	metrics, err := telemetry.NewLookupMetrics(otel.Meter("vault.aggregator"))
func NewLookupMetrics(meter metric.Meter) (*LookupMetrics, error) {
	m := &LookupMetrics{}
	var err error

	m.Outcomes, err = meter.Int64Counter(
		"vault_lookup_outcomes_total",
		metric.WithDescription("Settled source lookups by slot and result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create vault_lookup_outcomes_total: %w", err)
	}

	m.Duration, err = meter.Float64Histogram(
		"vault_lookup_duration_seconds",
		metric.WithDescription("Source lookup duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create vault_lookup_duration_seconds: %w", err)
	}

	return m, nil
}
