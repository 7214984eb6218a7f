// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package packager

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func sampleRecord() datatypes.AggregatedRecord {
	return datatypes.AggregatedRecord{
		Profile: datatypes.Document{"id": "u1", "name": "Ada Lovelace", "email": "a@example.com"},
		Payments: []datatypes.Document{
			{"id": "p1", "amount": 25, "createdAt": "2025-01-01T00:00:00Z"},
		},
	}
}

func TestPackage_Golden(t *testing.T) {
	pkg, err := New(fixedClock).Package("u1", sampleRecord())
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "envelope", pkg.Bytes)
}

func TestPackage_Deterministic(t *testing.T) {
	p := New(fixedClock)

	a, err := p.Package("u1", sampleRecord())
	require.NoError(t, err)
	b, err := p.Package("u1", sampleRecord())
	require.NoError(t, err)

	assert.Equal(t, a.Bytes, b.Bytes)
}

func TestPackage_Metadata(t *testing.T) {
	record := sampleRecord()
	record.WalletConnections = []datatypes.Document{{"id": "w1"}}

	pkg, err := New(fixedClock).Package("u1", record)
	require.NoError(t, err)

	payload, err := json.Marshal(pkg.Envelope.Payload)
	require.NoError(t, err)

	env := pkg.Envelope
	assert.Equal(t, "u1", env.UserID)
	assert.Equal(t, datatypes.SchemaVersion, env.SchemaVersion)
	assert.Equal(t, datatypes.ApplicationName, env.ApplicationName)
	assert.Equal(t, datatypes.ProducedBy, env.Metadata.ProducedBy)
	assert.Equal(t, 3, env.Metadata.CollectionCount)
	assert.Equal(t, len(payload), env.Metadata.ByteSize)
	assert.Equal(t, 3, env.Payload.Summary.PopulatedSlots)
	assert.True(t, fixedNow.Equal(time.Time(env.ExportTimestamp)))
}

func TestPackage_EmptyRecord(t *testing.T) {
	pkg, err := New(fixedClock).Package("u1", datatypes.AggregatedRecord{})
	require.NoError(t, err)
	assert.Equal(t, 0, pkg.Envelope.Metadata.CollectionCount)
	assert.Equal(t, 0, pkg.Envelope.Payload.Summary.DataCompleteness)
}

func TestPackage_UnencodableValue(t *testing.T) {
	record := datatypes.AggregatedRecord{
		Profile: datatypes.Document{"id": "u1", "score": math.NaN()},
	}
	_, err := New(fixedClock).Package("u1", record)
	assert.Error(t, err)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "user-export-u1-1735787045000.json", Filename("u1", fixedNow))
}
