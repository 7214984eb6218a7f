// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package packager wraps an aggregated record in the versioned export
// envelope that gets published.
package packager

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
)

// Package is a built envelope and the exact bytes that represent it.
type Package struct {
	Envelope datatypes.ExportEnvelope
	Bytes    []byte
}

// Packager builds export envelopes.
//
// # Description
//
// Output is a pure function of the inputs and the injected clock. Map keys
// inside documents are serialized in sorted order, so a fixed clock gives
// byte-identical envelopes for the same record.
//
// # Thread Safety
//
// Safe for concurrent use if the clock is.
type Packager struct {
	now func() time.Time
}

// New creates a Packager. A nil clock uses time.Now.
func New(now func() time.Time) *Packager {
	if now == nil {
		now = time.Now
	}
	return &Packager{now: now}
}

// Package builds the envelope for userID.
//
// # Inputs
//
//   - userID: Stored verbatim in the envelope.
//   - record: The aggregated record. Its summary is recomputed.
//
// # Outputs
//
//   - Package: The envelope and its serialized bytes.
//   - error: Non-nil only if a document holds a value JSON cannot encode.
func (p *Packager) Package(userID string, record datatypes.AggregatedRecord) (Package, error) {
	record.Summarize()

	payload, err := json.Marshal(record)
	if err != nil {
		return Package{}, fmt.Errorf("serialize payload for %s: %w", userID, err)
	}

	env := datatypes.ExportEnvelope{
		UserID:          userID,
		ExportTimestamp: strfmt.DateTime(p.now().UTC()),
		SchemaVersion:   datatypes.SchemaVersion,
		ApplicationName: datatypes.ApplicationName,
		Payload:         record,
		Metadata: datatypes.EnvelopeMetadata{
			CollectionCount: len(record.PopulatedSlots()),
			ByteSize:        len(payload),
			ProducedBy:      datatypes.ProducedBy,
		},
	}

	b, err := json.Marshal(env)
	if err != nil {
		return Package{}, fmt.Errorf("serialize envelope for %s: %w", userID, err)
	}
	return Package{Envelope: env, Bytes: b}, nil
}

// Filename returns the published name for a user's export at t.
func Filename(userID string, t time.Time) string {
	return fmt.Sprintf("user-export-%s-%d.json", userID, t.UnixMilli())
}
