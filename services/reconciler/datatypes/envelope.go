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
	"github.com/go-openapi/strfmt"
)

const (
	// SchemaVersion is the version of the export envelope layout.
	SchemaVersion = "1.0"

	// ApplicationName identifies the system that owns the exported data.
	ApplicationName = "aleutian-vault"

	// ProducedBy identifies the component that built the envelope.
	ProducedBy = "aleutian-vault-reconciler"
)

// ExportEnvelope is the immutable document published for one user.
//
// Its exact serialized bytes are what the content-addressed store hashes,
// so field order and tags here are part of the export format.
type ExportEnvelope struct {
	UserID          string           `json:"userId"`
	ExportTimestamp strfmt.DateTime  `json:"exportTimestamp"`
	SchemaVersion   string           `json:"schemaVersion"`
	ApplicationName string           `json:"applicationName"`
	Payload         AggregatedRecord `json:"payload"`
	Metadata        EnvelopeMetadata `json:"metadata"`
}

// EnvelopeMetadata is the manifest attached to every envelope.
type EnvelopeMetadata struct {
	// CollectionCount is the number of populated slots in the payload.
	CollectionCount int `json:"collectionCount"`

	// ByteSize is the serialized size of the payload alone.
	ByteSize int `json:"byteSize"`

	ProducedBy string `json:"producedBy"`
}
