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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize_Completeness(t *testing.T) {
	tests := []struct {
		name   string
		record AggregatedRecord
		want   int
	}{
		{"empty", AggregatedRecord{}, 0},
		{"profile only", AggregatedRecord{Profile: Document{"id": "u1"}}, 17},
		{"profile and payments", AggregatedRecord{
			Profile:  Document{"id": "u1"},
			Payments: []Document{{"id": "p1"}},
		}, 33},
		{"informative slots do not count", AggregatedRecord{
			WalletConnections: []Document{{"id": "w1"}},
			BiometricVectors:  []Document{{"id": "b1"}},
		}, 0},
		{"all required", AggregatedRecord{
			Profile:          Document{"id": "u1"},
			Verification:     Document{"id": "v1"},
			IdentityDocument: Document{"id": "d1"},
			Payments:         []Document{{"id": "p1"}},
			Journey:          Document{"id": "j1"},
			Settings:         Document{"id": "s1"},
		}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.record
			s := r.Summarize()
			assert.Equal(t, tt.want, s.DataCompleteness)
			assert.Equal(t, s, r.Summary)
		})
	}
}

func TestSummarize_Counts(t *testing.T) {
	r := AggregatedRecord{
		Profile:           Document{"id": "u1"},
		Payments:          []Document{{"id": "p1"}, {"id": "p2"}},
		WalletConnections: []Document{{"id": "w1"}},
	}
	s := r.Summarize()

	assert.True(t, s.HasProfile)
	assert.False(t, s.HasVerification)
	assert.Equal(t, 2, s.PaymentCount)
	assert.Equal(t, 1, s.WalletConnectionCount)
	assert.Equal(t, 0, s.BiometricVectorCount)
	assert.Equal(t, 3, s.PopulatedSlots)
	assert.Equal(t, []Slot{SlotProfile, SlotPayments, SlotWalletConnections}, r.PopulatedSlots())
	assert.False(t, r.IsEmpty())
}

func TestSetSingleAndSetList(t *testing.T) {
	var r AggregatedRecord

	r.SetSingle(SlotJourney, Document{"id": "j1"})
	r.SetSingle(SlotPayments, Document{"id": "p1"})
	r.SetList(SlotSettings, []Document{{"id": "s1"}, {"id": "s2"}})
	r.SetList(SlotVerification, nil)
	r.SetSingle(Slot("unknown"), Document{"id": "x"})

	assert.Equal(t, "j1", r.Journey.ID())
	require.Len(t, r.Payments, 1)
	assert.Equal(t, "p1", r.Payments[0].ID())
	assert.Equal(t, "s1", r.Settings.ID())
	assert.False(t, r.Has(SlotVerification))
	assert.False(t, r.Has(Slot("unknown")))
}

func TestAggregatedRecord_OmitsAbsentSlots(t *testing.T) {
	r := AggregatedRecord{Profile: Document{"id": "u1"}}
	r.Summarize()

	b, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Contains(t, decoded, "profile")
	assert.Contains(t, decoded, "summary")
	assert.NotContains(t, decoded, "payments")
	assert.NotContains(t, decoded, "verification")
}

func TestLedgerEntryConstructors(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))

	done := CompletedEntry("u1", CompletedOutcome{ContentID: "Qm1", Filename: "f.json", ByteSize: 10}, at)
	assert.True(t, done.IsCompleted())
	assert.Equal(t, time.UTC, done.ProcessedAt.Location())
	assert.Empty(t, done.Reason)

	failed := FailedEntry("u1", "no data found", at)
	assert.False(t, failed.IsCompleted())
	assert.Equal(t, "no data found", failed.Reason)
	assert.Empty(t, failed.ContentID)

	var nilEntry *LedgerEntry
	assert.False(t, nilEntry.IsCompleted())

	assert.True(t, StatusCompleted.Valid())
	assert.False(t, LedgerStatus("pending").Valid())
}
