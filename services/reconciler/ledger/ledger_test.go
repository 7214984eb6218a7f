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
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
	vaultbadger "github.com/AleutianAI/AleutianVault/services/reconciler/storage/badger"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backend {
	return []backend{
		{"badger", func(t *testing.T) Store {
			s, err := OpenBadger(vaultbadger.InMemoryConfig(), WithClock(fixedClock))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{"sqlite", func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"), WithClock(fixedClock))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{"cached badger", func(t *testing.T) Store {
			s, err := OpenBadger(vaultbadger.InMemoryConfig(), WithClock(fixedClock))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return NewCachedStore(s)
		}},
	}
}

func sampleOutcome() datatypes.CompletedOutcome {
	return datatypes.CompletedOutcome{
		ContentID:         "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
		Filename:          "user-export-u1-1.json",
		ByteSize:          512,
		SourceCollections: []string{"users", "payments", "users"},
		PublicURL:         "https://gateway.example.com/ipfs/QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
	}
}

func TestLedger_Contract(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			t.Run("completed round trip", func(t *testing.T) {
				ctx := context.Background()
				s := b.open(t)

				require.NoError(t, s.MarkCompleted(ctx, "u1", sampleOutcome()))

				done, err := s.IsCompleted(ctx, "u1")
				require.NoError(t, err)
				assert.True(t, done)

				e, err := s.Get(ctx, "u1")
				require.NoError(t, err)
				assert.Equal(t, datatypes.StatusCompleted, e.Status)
				assert.Equal(t, sampleOutcome().ContentID, e.ContentID)
				assert.Equal(t, []string{"payments", "users"}, e.SourceCollections)
				assert.Equal(t, int64(512), e.ByteSize)
				assert.True(t, fixedNow.Equal(e.ProcessedAt))
				assert.Equal(t, 1, e.Attempts)
			})

			t.Run("failed is retriable and counts attempts", func(t *testing.T) {
				ctx := context.Background()
				s := b.open(t)

				require.NoError(t, s.MarkFailed(ctx, "u2", "no data found"))
				require.NoError(t, s.MarkFailed(ctx, "u2", "upstream 500"))

				done, err := s.IsCompleted(ctx, "u2")
				require.NoError(t, err)
				assert.False(t, done)

				e, err := s.Get(ctx, "u2")
				require.NoError(t, err)
				assert.Equal(t, datatypes.StatusFailed, e.Status)
				assert.Equal(t, "upstream 500", e.Reason)
				assert.Equal(t, 2, e.Attempts)

				require.NoError(t, s.MarkCompleted(ctx, "u2", sampleOutcome()))
				e, err = s.Get(ctx, "u2")
				require.NoError(t, err)
				assert.True(t, e.IsCompleted())
				assert.Empty(t, e.Reason)
				assert.Equal(t, 3, e.Attempts)
			})

			t.Run("completed is never overwritten by failed", func(t *testing.T) {
				ctx := context.Background()
				s := b.open(t)

				require.NoError(t, s.MarkCompleted(ctx, "u3", sampleOutcome()))
				require.NoError(t, s.MarkFailed(ctx, "u3", "late failure"))

				e, err := s.Get(ctx, "u3")
				require.NoError(t, err)
				assert.True(t, e.IsCompleted())
				assert.Equal(t, sampleOutcome().ContentID, e.ContentID)
				assert.Equal(t, 1, e.Attempts)
			})

			t.Run("list by status and completed set", func(t *testing.T) {
				ctx := context.Background()
				s := b.open(t)

				require.NoError(t, s.MarkCompleted(ctx, "b", sampleOutcome()))
				require.NoError(t, s.MarkCompleted(ctx, "a", sampleOutcome()))
				require.NoError(t, s.MarkFailed(ctx, "c", "no data found"))
				require.NoError(t, s.MarkFailed(ctx, "d", "no data found"))
				require.NoError(t, s.MarkCompleted(ctx, "d", sampleOutcome()))

				ids, err := s.ListCompleted(ctx)
				require.NoError(t, err)
				assert.Equal(t, map[string]struct{}{"a": {}, "b": {}, "d": {}}, ids)

				failed, err := s.ListByStatus(ctx, datatypes.StatusFailed)
				require.NoError(t, err)
				require.Len(t, failed, 1)
				assert.Equal(t, "c", failed[0].UserID)

				completed, err := s.ListByStatus(ctx, datatypes.StatusCompleted)
				require.NoError(t, err)
				require.Len(t, completed, 3)
				assert.Equal(t, "a", completed[0].UserID)
				assert.Equal(t, "d", completed[2].UserID)

				_, err = s.ListByStatus(ctx, datatypes.LedgerStatus("pending"))
				assert.Error(t, err)
			})

			t.Run("not found and invalid ids", func(t *testing.T) {
				ctx := context.Background()
				s := b.open(t)

				_, err := s.Get(ctx, "ghost")
				assert.ErrorIs(t, err, ErrNotFound)

				done, err := s.IsCompleted(ctx, "ghost")
				require.NoError(t, err)
				assert.False(t, done)

				assert.Error(t, s.MarkFailed(ctx, "a/b", "x"))
				assert.Error(t, s.MarkCompleted(ctx, "", sampleOutcome()))
			})

			t.Run("concurrent writes", func(t *testing.T) {
				ctx := context.Background()
				s := b.open(t)

				var wg sync.WaitGroup
				for i := 0; i < 20; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						id := fmt.Sprintf("user-%d", i%5)
						if i%2 == 0 {
							assert.NoError(t, s.MarkCompleted(ctx, id, sampleOutcome()))
						} else {
							assert.NoError(t, s.MarkFailed(ctx, id, "boom"))
						}
					}(i)
				}
				wg.Wait()

				ids, err := s.ListCompleted(ctx)
				require.NoError(t, err)
				assert.Len(t, ids, 5)
			})
		})
	}
}

func TestBadgerStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := vaultbadger.DefaultConfig(filepath.Join(t.TempDir(), "ledger"))
	cfg.GCInterval = 0

	s, err := OpenBadger(cfg)
	require.NoError(t, err)
	require.NoError(t, s.MarkCompleted(ctx, "u1", sampleOutcome()))
	require.NoError(t, s.Close())

	s, err = OpenBadger(cfg)
	require.NoError(t, err)
	defer s.Close()

	done, err := s.IsCompleted(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, "u1", "no data found"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	e, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "no data found", e.Reason)
}

func TestCachedStore_ServesPositiveHitsFromMemory(t *testing.T) {
	ctx := context.Background()
	inner, err := OpenBadger(vaultbadger.InMemoryConfig())
	require.NoError(t, err)
	defer inner.Close()

	c := NewCachedStore(inner)
	require.NoError(t, inner.MarkCompleted(ctx, "u1", sampleOutcome()))

	done, err := c.IsCompleted(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, done)

	c.Invalidate()
	done, err = c.IsCompleted(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = c.IsCompleted(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, done)
}
