// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package docstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
)

// MemoryStore is an in-process Store.
//
// # Description
//
// Documents live in maps keyed by collection and id. Failures and delays
// can be injected per collection, which is how the aggregator and
// reconciler tests simulate unavailable or slow sources.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]datatypes.Document
	subs        map[string]map[string]datatypes.Document
	failures    map[string]error
	delays      map[string]time.Duration
	calls       map[string]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]datatypes.Document),
		subs:        make(map[string]map[string]datatypes.Document),
		failures:    make(map[string]error),
		delays:      make(map[string]time.Duration),
		calls:       make(map[string]int),
	}
}

// Put stores doc in collection under id. The "id" field is set on a copy.
func (m *MemoryStore) Put(collection, id string, doc datatypes.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]datatypes.Document)
		m.collections[collection] = coll
	}
	coll[id] = withID(doc, id)
}

// PutSub stores doc under parent/parentID/sub.
func (m *MemoryStore) PutSub(parent, parentID, sub, id string, doc datatypes.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := subKey(parent, parentID, sub)
	coll, ok := m.subs[key]
	if !ok {
		coll = make(map[string]datatypes.Document)
		m.subs[key] = coll
	}
	coll[id] = withID(doc, id)
}

// Delete removes a document from a top-level collection.
func (m *MemoryStore) Delete(collection, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
}

// FailCollection makes every call touching collection return err.
// Passing a nil err clears the failure.
func (m *MemoryStore) FailCollection(collection string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, collection)
		return
	}
	m.failures[collection] = err
}

// DelayCollection makes every call touching collection wait for d first.
// The wait honours context cancellation.
func (m *MemoryStore) DelayCollection(collection string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[collection] = d
}

// Calls returns how many calls have touched collection.
func (m *MemoryStore) Calls(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[collection]
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, collection, id string) (datatypes.Document, error) {
	if err := m.enter(ctx, collection); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return copyDoc(doc), nil
}

// Query implements Store. Values are compared with reflect.DeepEqual.
func (m *MemoryStore) Query(ctx context.Context, collection, field string, value any) ([]datatypes.Document, error) {
	if err := m.enter(ctx, collection); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []datatypes.Document
	for _, doc := range m.collections[collection] {
		if v, ok := doc[field]; ok && reflect.DeepEqual(v, value) {
			out = append(out, copyDoc(doc))
		}
	}
	sortByID(out)
	return out, nil
}

// ListIDs implements Store. IDs are returned sorted.
func (m *MemoryStore) ListIDs(ctx context.Context, collection string) ([]string, error) {
	if err := m.enter(ctx, collection); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.collections[collection]))
	for id := range m.collections[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ListSub implements Store. Failures injected on the parent collection apply.
func (m *MemoryStore) ListSub(ctx context.Context, parent, parentID, sub string) ([]datatypes.Document, error) {
	if err := m.enter(ctx, parent); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	coll := m.subs[subKey(parent, parentID, sub)]
	out := make([]datatypes.Document, 0, len(coll))
	for _, doc := range coll {
		out = append(out, copyDoc(doc))
	}
	sortByID(out)
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close(context.Context) error {
	return nil
}

func (m *MemoryStore) enter(ctx context.Context, collection string) error {
	m.mu.Lock()
	m.calls[collection]++
	delay := m.delays[collection]
	failure := m.failures[collection]
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if failure != nil {
		return fmt.Errorf("%s: %w", collection, failure)
	}
	return nil
}

func subKey(parent, parentID, sub string) string {
	return parent + "/" + parentID + "/" + sub
}

func withID(doc datatypes.Document, id string) datatypes.Document {
	out := copyDoc(doc)
	if out == nil {
		out = datatypes.Document{}
	}
	if own, ok := out[datatypes.IDField]; ok {
		if s, isString := own.(string); !isString || s != id {
			out[datatypes.SourceIDField] = own
		}
	}
	out[datatypes.IDField] = id
	return out
}

func copyDoc(doc datatypes.Document) datatypes.Document {
	if doc == nil {
		return nil
	}
	out := make(datatypes.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func sortByID(docs []datatypes.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].ID() < docs[j].ID()
	})
}
