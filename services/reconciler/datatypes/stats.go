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

// RunStatistics are the in-memory counters of a reconciler process.
//
// They are not durable and are cleared only by an explicit operator reset.
type RunStatistics struct {
	TotalProcessed int64      `json:"totalProcessed"`
	Successful     int64      `json:"successful"`
	Failed         int64      `json:"failed"`
	LastRunTime    *time.Time `json:"lastRunTime,omitempty"`
	NextRunTime    *time.Time `json:"nextRunTime,omitempty"`
}

// ReconcilerStatus is the operator view of a running reconciler.
type ReconcilerStatus struct {
	IsRunning      bool          `json:"isRunning"`
	State          string        `json:"state"`
	ProcessedCount int64         `json:"processedCount"`
	Stats          RunStatistics `json:"stats"`

	// InvalidIDs are primary-store ids the latest cycle could not process
	// because they fail identifier validation. They never reach the ledger.
	InvalidIDs []string `json:"invalidIds,omitempty"`
}

// CycleReport summarises one finished reconciliation cycle.
type CycleReport struct {
	CycleID    string        `json:"cycleId"`
	Trigger    string        `json:"trigger"`
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
	Candidates int           `json:"candidates"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	InvalidIDs int           `json:"invalidIds"`
	Err        error         `json:"-"`
}
