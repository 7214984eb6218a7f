// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lookup fetches one user's fragment from one secondary source.
//
// A Source owns an ordered list of Strategy functions. Fetch evaluates them
// left to right and stops at the first one that yields documents. A
// strategy that errors is logged and treated as empty, so a broken index or
// a missing collection never hides data another strategy can find.
package lookup

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
	"github.com/AleutianAI/AleutianVault/services/reconciler/docstore"
)

// UserIDFields are the field spellings that hold a user id in secondary
// collections, in the order they are queried.
var UserIDFields = []string{"userId", "user_id", "uid", "userID"}

// Strategy fetches candidate documents for a user.
//
// An empty result with a nil error means "nothing here, try the next one".
type Strategy func(ctx context.Context, userID string) ([]datatypes.Document, error)

// ByID looks up the document whose primary key is the user id.
func ByID(store docstore.Store, collection string) Strategy {
	return func(ctx context.Context, userID string) ([]datatypes.Document, error) {
		doc, err := store.Get(ctx, collection, userID)
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []datatypes.Document{doc}, nil
	}
}

// ByField queries collection once per field spelling and unions the
// matches, de-duplicated by document id.
//
// A failing spelling is skipped. The strategy errors only when every
// spelling failed.
func ByField(store docstore.Store, collection string, fields ...string) Strategy {
	if len(fields) == 0 {
		fields = UserIDFields
	}
	return func(ctx context.Context, userID string) ([]datatypes.Document, error) {
		var (
			out     []datatypes.Document
			seen    = make(map[string]struct{})
			failed  int
			lastErr error
		)
		for _, field := range fields {
			docs, err := store.Query(ctx, collection, field, userID)
			if err != nil {
				failed++
				lastErr = fmt.Errorf("query %s.%s: %w", collection, field, err)
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				continue
			}
			out = appendUnique(out, seen, docs)
		}
		if failed == len(fields) {
			return nil, lastErr
		}
		return out, nil
	}
}

// SubCollection lists parent/{userID}/sub.
func SubCollection(store docstore.Store, parent, sub string) Strategy {
	return func(ctx context.Context, userID string) ([]datatypes.Document, error) {
		return store.ListSub(ctx, parent, userID, sub)
	}
}

// appendUnique appends docs whose id has not been seen. Documents without an
// id are always kept.
func appendUnique(out []datatypes.Document, seen map[string]struct{}, docs []datatypes.Document) []datatypes.Document {
	for _, doc := range docs {
		id := doc.ID()
		if id != "" {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		}
		out = append(out, doc)
	}
	return out
}
