// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package docstore abstracts the document databases the reconciler reads
// from: the primary user collection and every secondary source.
//
// Two implementations are provided. MongoStore talks to a MongoDB
// deployment and is used in production. MemoryStore keeps everything in
// maps and is used by tests and local runs.
package docstore

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
)

// ErrNotFound is returned by Get when no document has the requested id.
var ErrNotFound = errors.New("docstore: document not found")

// Store is a read-only view over a set of named collections.
//
// # Description
//
// Every returned Document has its primary key normalised into the "id"
// field. Query and ListSub return an empty slice, not an error, when
// nothing matches.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The aggregator issues
// all lookups for a user in parallel.
type Store interface {
	// Get fetches a document by primary key. Returns ErrNotFound if absent.
	Get(ctx context.Context, collection, id string) (datatypes.Document, error)

	// Query returns every document whose top-level field equals value.
	Query(ctx context.Context, collection, field string, value any) ([]datatypes.Document, error)

	// ListIDs enumerates the primary keys of a collection.
	ListIDs(ctx context.Context, collection string) ([]string, error)

	// ListSub returns every document nested under parent/parentID/sub.
	ListSub(ctx context.Context, parent, parentID, sub string) ([]datatypes.Document, error)

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}
