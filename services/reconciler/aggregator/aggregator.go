// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aggregator assembles one user's AggregatedRecord by querying every
// secondary source concurrently.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianVault/pkg/telemetry"
	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
	"github.com/AleutianAI/AleutianVault/services/reconciler/lookup"
)

const tracerName = "vault.aggregator"

// DefaultLookupTimeout bounds each source lookup.
const DefaultLookupTimeout = 10 * time.Second

// Source is what the aggregator needs from a secondary source.
// *lookup.Source satisfies it.
type Source interface {
	Slot() datatypes.Slot
	Collection() string
	Fetch(ctx context.Context, userID string) ([]datatypes.Document, error)
}

// FromLookup adapts concrete lookup sources to the Source interface.
func FromLookup(sources []*lookup.Source) []Source {
	out := make([]Source, len(sources))
	for i, s := range sources {
		out[i] = s
	}
	return out
}

// Result is the merged record plus every settled lookup outcome.
type Result struct {
	Record   datatypes.AggregatedRecord
	Outcomes []lookup.Outcome
}

// SourceCollections returns the sorted set of collections that contributed
// at least one document to the record.
func (r Result) SourceCollections() []string {
	set := make(map[string]struct{})
	for _, o := range r.Outcomes {
		if o.Found() {
			set[o.Collection] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Failed returns the outcomes whose lookup errored.
func (r Result) Failed() []lookup.Outcome {
	var out []lookup.Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLookupTimeout sets the per-source timeout. Default: 10s.
func WithLookupTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics records lookup outcomes on the given instruments.
func WithMetrics(m *telemetry.LookupMetrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// Aggregator fans out to every configured source for one user.
//
// # Description
//
// All sources are queried in parallel and the call waits for every one of
// them to settle. A source that errors, times out or panics leaves its slot
// absent and never affects the other slots.
//
// # Thread Safety
//
// Safe for concurrent use.
type Aggregator struct {
	sources []Source
	timeout time.Duration
	logger  *slog.Logger
	metrics *telemetry.LookupMetrics
}

// New creates an Aggregator over sources, merged in the given order.
func New(sources []Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		sources: sources,
		timeout: DefaultLookupTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate builds the record for userID.
//
// # Description
//
// Issues every lookup concurrently, each under its own timeout derived from
// ctx. Settled outcomes are merged in source order: a slot is filled only
// when its lookup succeeded with documents. The summary is computed last.
//
// # Inputs
//
//   - ctx: Parent context. Cancelling it fails every lookup still running.
//   - userID: Join key used by every source.
//
// # Outputs
//
//   - Result: Always returned, even when every slot is absent.
//
// # Examples
//
//	res := agg.Aggregate(ctx, "u-123")
//	if res.Record.IsEmpty() {
//	    // no data anywhere
//	}
func (a *Aggregator) Aggregate(ctx context.Context, userID string) Result {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Aggregator.Aggregate")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("sources", len(a.sources)),
	)

	outcomes := make([]lookup.Outcome, len(a.sources))

	g, gCtx := errgroup.WithContext(ctx)
	for i, src := range a.sources {
		g.Go(func() error {
			outcomes[i] = a.fetch(gCtx, src, userID)
			return nil
		})
	}
	_ = g.Wait()

	var record datatypes.AggregatedRecord
	failed := 0
	for _, o := range outcomes {
		a.record(ctx, o)
		if o.Err != nil {
			failed++
			a.logger.Warn("Source lookup failed",
				"user_id", userID,
				"slot", string(o.Slot),
				"collection", o.Collection,
				"error", o.Err,
			)
			continue
		}
		if len(o.Docs) == 0 {
			continue
		}
		record.SetList(o.Slot, o.Docs)
	}
	summary := record.Summarize()

	span.SetAttributes(
		attribute.Int("populated_slots", summary.PopulatedSlots),
		attribute.Int("failed_lookups", failed),
		attribute.Int("data_completeness", summary.DataCompleteness),
	)
	a.logger.Debug("Aggregated user record",
		"user_id", userID,
		"populated_slots", summary.PopulatedSlots,
		"data_completeness", summary.DataCompleteness,
		"failed_lookups", failed,
	)

	return Result{Record: record, Outcomes: outcomes}
}

// fetch runs one source under its own timeout and converts panics into a
// failed outcome.
func (a *Aggregator) fetch(ctx context.Context, src Source, userID string) (out lookup.Outcome) {
	out = lookup.Outcome{Slot: src.Slot(), Collection: src.Collection()}
	start := time.Now()

	defer func() {
		out.Duration = time.Since(start)
		if r := recover(); r != nil {
			out.Docs = nil
			out.Err = fmt.Errorf("lookup %s panicked: %v", src.Slot(), r)
		}
	}()

	lookupCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	docs, err := src.Fetch(lookupCtx, userID)
	if err == nil && lookupCtx.Err() != nil {
		err = lookupCtx.Err()
	}
	if err != nil {
		out.Err = fmt.Errorf("lookup %s: %w", src.Slot(), err)
		return out
	}
	out.Docs = docs
	return out
}

func (a *Aggregator) record(ctx context.Context, o lookup.Outcome) {
	if a.metrics == nil {
		return
	}
	slot := attribute.String("slot", string(o.Slot))
	a.metrics.Outcomes.Add(ctx, 1, metric.WithAttributes(slot, attribute.String("result", o.Result())))
	a.metrics.Duration.Record(ctx, o.Duration.Seconds(), metric.WithAttributes(slot))
}
