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
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
	vaultbadger "github.com/AleutianAI/AleutianVault/services/reconciler/storage/badger"
)

const (
	entryPrefix  = "ledger/entry/"
	statusPrefix = "ledger/status/"
)

func entryKey(userID string) []byte {
	return []byte(entryPrefix + userID)
}

func statusKey(status datatypes.LedgerStatus, userID string) []byte {
	return []byte(statusPrefix + string(status) + "/" + userID)
}

func statusScanPrefix(status datatypes.LedgerStatus) []byte {
	return []byte(statusPrefix + string(status) + "/")
}

// BadgerStore is the default ledger backend.
//
// # Description
//
// Each entry is a JSON value under ledger/entry/{userID}. A value-less
// secondary key ledger/status/{status}/{userID} makes ListCompleted a
// key-only prefix scan. Entry and index are updated in one transaction.
type BadgerStore struct {
	db   *vaultbadger.DB
	opts options
}

// NewBadgerStore wraps an open database. The store takes ownership and
// closes it on Close.
func NewBadgerStore(db *vaultbadger.DB, opts ...Option) *BadgerStore {
	return &BadgerStore{db: db, opts: buildOptions(opts)}
}

// OpenBadger opens a database with cfg and wraps it.
func OpenBadger(cfg vaultbadger.Config, opts ...Option) (*BadgerStore, error) {
	db, err := vaultbadger.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return NewBadgerStore(db, opts...), nil
}

// MarkCompleted implements Store.
func (s *BadgerStore) MarkCompleted(ctx context.Context, userID string, outcome datatypes.CompletedOutcome) error {
	if err := checkUserID(userID); err != nil {
		return err
	}
	outcome.SourceCollections = sortedCopy(outcome.SourceCollections)
	entry := datatypes.CompletedEntry(userID, outcome, s.opts.now())
	return s.write(ctx, entry)
}

// MarkFailed implements Store.
func (s *BadgerStore) MarkFailed(ctx context.Context, userID, reason string) error {
	if err := checkUserID(userID); err != nil {
		return err
	}
	return s.write(ctx, datatypes.FailedEntry(userID, reason, s.opts.now()))
}

func (s *BadgerStore) write(ctx context.Context, entry datatypes.LedgerEntry) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		prev, found, err := readEntry(txn, entry.UserID)
		if err != nil {
			return err
		}
		if found {
			if prev.IsCompleted() && entry.Status == datatypes.StatusFailed {
				return nil
			}
			entry.Attempts = prev.Attempts + 1
			if err := txn.Delete(statusKey(prev.Status, prev.UserID)); err != nil {
				return err
			}
		} else {
			entry.Attempts = 1
		}

		value, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := txn.Set(entryKey(entry.UserID), value); err != nil {
			return err
		}
		return txn.Set(statusKey(entry.Status, entry.UserID), []byte{})
	})
	if err != nil {
		return fmt.Errorf("ledger write %s: %w", entry.UserID, err)
	}
	return nil
}

// IsCompleted implements Store.
func (s *BadgerStore) IsCompleted(ctx context.Context, userID string) (bool, error) {
	entry, err := s.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return entry.IsCompleted(), nil
}

// ListCompleted implements Store.
func (s *BadgerStore) ListCompleted(ctx context.Context) (map[string]struct{}, error) {
	prefix := statusScanPrefix(datatypes.StatusCompleted)
	ids := make(map[string]struct{})
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return vaultbadger.ScanKeys(txn, prefix, func(key []byte) error {
			ids[string(key[len(prefix):])] = struct{}{}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("ledger list completed: %w", err)
	}
	return ids, nil
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, userID string) (datatypes.LedgerEntry, error) {
	if err := checkUserID(userID); err != nil {
		return datatypes.LedgerEntry{}, err
	}

	var (
		entry datatypes.LedgerEntry
		found bool
	)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		entry, found, err = readEntry(txn, userID)
		return err
	})
	if err != nil {
		return datatypes.LedgerEntry{}, fmt.Errorf("ledger get %s: %w", userID, err)
	}
	if !found {
		return datatypes.LedgerEntry{}, fmt.Errorf("%s: %w", userID, ErrNotFound)
	}
	return entry, nil
}

// ListByStatus implements Store.
func (s *BadgerStore) ListByStatus(ctx context.Context, status datatypes.LedgerStatus) ([]datatypes.LedgerEntry, error) {
	if err := checkStatus(status); err != nil {
		return nil, err
	}

	prefix := statusScanPrefix(status)
	var entries []datatypes.LedgerEntry
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var ids []string
		if err := vaultbadger.ScanKeys(txn, prefix, func(key []byte) error {
			ids = append(ids, string(key[len(prefix):]))
			return nil
		}); err != nil {
			return err
		}
		for _, id := range ids {
			entry, found, err := readEntry(txn, id)
			if err != nil {
				return err
			}
			if found {
				entries = append(entries, entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger list %s: %w", status, err)
	}
	return entries, nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func readEntry(txn *badger.Txn, userID string) (datatypes.LedgerEntry, bool, error) {
	item, err := txn.Get(entryKey(userID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return datatypes.LedgerEntry{}, false, nil
	}
	if err != nil {
		return datatypes.LedgerEntry{}, false, err
	}

	var entry datatypes.LedgerEntry
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	})
	if err != nil {
		return datatypes.LedgerEntry{}, false, fmt.Errorf("decode entry %s: %w", userID, err)
	}
	return entry, true, nil
}

func sortedCopy(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
