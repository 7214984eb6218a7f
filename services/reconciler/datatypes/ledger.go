// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"
)

// LedgerStatus is the processing outcome recorded for a user.
type LedgerStatus string

const (
	// StatusCompleted is terminal. The user is never reprocessed.
	StatusCompleted LedgerStatus = "completed"

	// StatusFailed is retried on the next cycle.
	StatusFailed LedgerStatus = "failed"
)

// Valid reports whether s is a known status.
func (s LedgerStatus) Valid() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CompletedOutcome is what a successful publish hands to the ledger.
type CompletedOutcome struct {
	ContentID         string   `json:"contentId"`
	Filename          string   `json:"filename"`
	ByteSize          int64    `json:"byteSize"`
	SourceCollections []string `json:"sourceCollections"`
	PublicURL         string   `json:"publicUrl"`
}

// LedgerEntry is the durable per-user record.
//
// Completed entries carry the outcome fields and an empty Reason. Failed
// entries carry only Reason. Attempts counts every write for the user.
type LedgerEntry struct {
	UserID            string       `json:"userId"`
	Status            LedgerStatus `json:"status"`
	ContentID         string       `json:"contentId,omitempty"`
	Filename          string       `json:"filename,omitempty"`
	ByteSize          int64        `json:"byteSize,omitempty"`
	SourceCollections []string     `json:"sourceCollections,omitempty"`
	PublicURL         string       `json:"publicUrl,omitempty"`
	Reason            string       `json:"reason,omitempty"`
	ProcessedAt       time.Time    `json:"processedAt"`
	Attempts          int          `json:"attempts"`
}

// IsCompleted reports whether the entry is terminal.
func (e *LedgerEntry) IsCompleted() bool {
	return e != nil && e.Status == StatusCompleted
}

// CompletedEntry builds a Completed entry from an outcome.
func CompletedEntry(userID string, outcome CompletedOutcome, at time.Time) LedgerEntry {
	return LedgerEntry{
		UserID:            userID,
		Status:            StatusCompleted,
		ContentID:         outcome.ContentID,
		Filename:          outcome.Filename,
		ByteSize:          outcome.ByteSize,
		SourceCollections: outcome.SourceCollections,
		PublicURL:         outcome.PublicURL,
		ProcessedAt:       at.UTC(),
	}
}

// FailedEntry builds a Failed entry.
func FailedEntry(userID, reason string, at time.Time) LedgerEntry {
	return LedgerEntry{
		UserID:      userID,
		Status:      StatusFailed,
		Reason:      reason,
		ProcessedAt: at.UTC(),
	}
}
