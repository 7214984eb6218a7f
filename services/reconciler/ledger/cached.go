// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"context"
	"sync"

	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
)

// CachedStore remembers user ids it has seen Completed.
//
// Completed is terminal, so a positive answer can be served from memory.
// A negative answer always goes to the underlying store, and ListCompleted
// always reads through and refreshes the cache. Dropping the cache at any
// time changes nothing but latency.
type CachedStore struct {
	Store

	mu        sync.RWMutex
	completed map[string]struct{}
}

// NewCachedStore wraps store.
func NewCachedStore(store Store) *CachedStore {
	return &CachedStore{Store: store, completed: make(map[string]struct{})}
}

// MarkCompleted implements Store.
func (c *CachedStore) MarkCompleted(ctx context.Context, userID string, outcome datatypes.CompletedOutcome) error {
	if err := c.Store.MarkCompleted(ctx, userID, outcome); err != nil {
		return err
	}
	c.remember(userID)
	return nil
}

// IsCompleted implements Store.
func (c *CachedStore) IsCompleted(ctx context.Context, userID string) (bool, error) {
	c.mu.RLock()
	_, ok := c.completed[userID]
	c.mu.RUnlock()
	if ok {
		return true, nil
	}

	done, err := c.Store.IsCompleted(ctx, userID)
	if err != nil {
		return false, err
	}
	if done {
		c.remember(userID)
	}
	return done, nil
}

// ListCompleted implements Store.
func (c *CachedStore) ListCompleted(ctx context.Context) (map[string]struct{}, error) {
	ids, err := c.Store.ListCompleted(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.completed = make(map[string]struct{}, len(ids))
	for id := range ids {
		c.completed[id] = struct{}{}
	}
	c.mu.Unlock()
	return ids, nil
}

// Invalidate drops every cached id.
func (c *CachedStore) Invalidate() {
	c.mu.Lock()
	c.completed = make(map[string]struct{})
	c.mu.Unlock()
}

func (c *CachedStore) remember(userID string) {
	c.mu.Lock()
	c.completed[userID] = struct{}{}
	c.mu.Unlock()
}
