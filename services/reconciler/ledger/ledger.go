// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger durably records the processing outcome of every user and
// is the authoritative "already processed" index for the reconciler.
//
// A Completed entry is terminal: a later MarkFailed for the same user is
// ignored. A Failed entry is overwritten by the next attempt. Every write
// increments the entry's attempt counter.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianVault/pkg/validation"
	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
)

// ErrNotFound is returned by Get when no entry exists for the user.
var ErrNotFound = errors.New("ledger: entry not found")

// Store is the durable ledger.
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
type Store interface {
	// MarkCompleted records a successful publish. Last write wins.
	MarkCompleted(ctx context.Context, userID string, outcome datatypes.CompletedOutcome) error

	// MarkFailed records a failed attempt unless the user is already Completed.
	MarkFailed(ctx context.Context, userID, reason string) error

	// IsCompleted reports whether the user has a Completed entry.
	IsCompleted(ctx context.Context, userID string) (bool, error)

	// ListCompleted returns the set of Completed user ids.
	ListCompleted(ctx context.Context) (map[string]struct{}, error)

	// Get returns the entry for a user, or ErrNotFound.
	Get(ctx context.Context, userID string) (datatypes.LedgerEntry, error)

	// ListByStatus returns every entry with the given status, ordered by user id.
	ListByStatus(ctx context.Context, status datatypes.LedgerStatus) ([]datatypes.LedgerEntry, error)

	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets the clock used for ProcessedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func checkUserID(userID string) error {
	if err := validation.ValidateUserID(userID); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

func checkStatus(status datatypes.LedgerStatus) error {
	if !status.Valid() {
		return fmt.Errorf("ledger: unknown status %q", status)
	}
	return nil
}
