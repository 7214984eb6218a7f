// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
)

// Kind says whether a source fills a single-valued or a list slot.
type Kind string

const (
	KindSingle Kind = "single"
	KindList   Kind = "list"
)

// SourceSpec describes where a slot's data lives.
type SourceSpec struct {
	Slot       datatypes.Slot
	Collection string
	Kind       Kind

	// NewestFirst orders list results by timestamp, newest first.
	NewestFirst bool
}

// Source is one secondary data source bound to its strategies.
//
// # Thread Safety
//
// Immutable after construction and safe for concurrent Fetch calls.
type Source struct {
	spec       SourceSpec
	strategies []Strategy
	logger     *slog.Logger
}

// NewSource binds spec to an ordered list of strategies.
func NewSource(spec SourceSpec, logger *slog.Logger, strategies ...Strategy) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		spec:       spec,
		strategies: strategies,
		logger:     logger.With("slot", string(spec.Slot), "collection", spec.Collection),
	}
}

// Slot returns the record slot this source fills.
func (s *Source) Slot() datatypes.Slot { return s.spec.Slot }

// Kind returns whether the source is single-valued or a list.
func (s *Source) Kind() Kind { return s.spec.Kind }

// Collection returns the collection the source reads.
func (s *Source) Collection() string { return s.spec.Collection }

// Fetch runs the strategies for userID.
//
// # Description
//
// Strategies are tried left to right until one returns documents. Errors
// from individual strategies are logged at debug level and skipped.
// Single-valued sources reduce the winning result to the most recent
// document. List sources de-duplicate by id and optionally sort newest
// first.
//
// # Outputs
//
//   - []datatypes.Document: Nil or empty when nothing was found. Exactly
//     one element for single-valued sources.
//   - error: Non-nil only when ctx expired or every strategy failed. The
//     slot is absent in both cases.
func (s *Source) Fetch(ctx context.Context, userID string) ([]datatypes.Document, error) {
	var (
		failed  int
		lastErr error
	)
	for i, strategy := range s.strategies {
		docs, err := strategy(ctx, userID)
		if err != nil {
			failed++
			lastErr = err
			s.logger.Debug("Lookup strategy failed",
				"user_id", userID,
				"strategy", i,
				"error", err,
			)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if len(docs) == 0 {
			continue
		}
		return s.shape(docs), nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if failed > 0 && failed == len(s.strategies) {
		return nil, fmt.Errorf("%s: all %d strategies failed: %w", s.spec.Collection, failed, lastErr)
	}
	return nil, nil
}

func (s *Source) shape(docs []datatypes.Document) []datatypes.Document {
	if s.spec.Kind == KindSingle {
		return []datatypes.Document{PickMostRecent(docs)}
	}

	out := appendUnique(nil, make(map[string]struct{}), docs)
	if s.spec.NewestFirst {
		SortNewestFirst(out)
	}
	return out
}

// Outcome is the settled result of one source lookup.
//
// Exactly one of Docs or Err is meaningful: a failed lookup has Err set
// and no documents.
type Outcome struct {
	Slot       datatypes.Slot
	Collection string
	Docs       []datatypes.Document
	Err        error
	Duration   time.Duration
}

// Found reports whether the lookup succeeded with at least one document.
func (o Outcome) Found() bool {
	return o.Err == nil && len(o.Docs) > 0
}

// Result labels the outcome for metrics and logs: found, empty, or error.
func (o Outcome) Result() string {
	switch {
	case o.Err != nil:
		return "error"
	case len(o.Docs) == 0:
		return "empty"
	default:
		return "found"
	}
}
