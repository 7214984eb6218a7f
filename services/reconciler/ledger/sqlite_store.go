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
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
)

//go:embed schema.sql
var schemaSQL string

// upsertSQL writes an entry unless it would replace a completed row with a
// failed one. Attempts carries over from the existing row.
const upsertSQL = `
INSERT INTO ledger_entries
    (user_id, status, content_id, filename, byte_size, source_collections, public_url, reason, processed_at, attempts)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
ON CONFLICT(user_id) DO UPDATE SET
    status             = excluded.status,
    content_id         = excluded.content_id,
    filename           = excluded.filename,
    byte_size          = excluded.byte_size,
    source_collections = excluded.source_collections,
    public_url         = excluded.public_url,
    reason             = excluded.reason,
    processed_at       = excluded.processed_at,
    attempts           = ledger_entries.attempts + 1
WHERE NOT (ledger_entries.status = 'completed' AND excluded.status = 'failed')`

const selectColumns = `user_id, status, content_id, filename, byte_size, source_collections, public_url, reason, processed_at, attempts`

// SQLiteStore is the alternate ledger backend.
//
// # Description
//
// Uses a single SQLite file in WAL mode with one open connection, which
// serialises writers and avoids SQLITE_BUSY. The completed-never-failed
// rule is enforced inside the upsert statement.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// OpenSQLite creates or opens the ledger database at path.
// Use ":memory:" only in tests that never reopen the store.
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply ledger schema: %w", err)
	}

	return &SQLiteStore{db: db, opts: buildOptions(opts)}, nil
}

// MarkCompleted implements Store.
func (s *SQLiteStore) MarkCompleted(ctx context.Context, userID string, outcome datatypes.CompletedOutcome) error {
	if err := checkUserID(userID); err != nil {
		return err
	}
	outcome.SourceCollections = sortedCopy(outcome.SourceCollections)
	return s.upsert(ctx, datatypes.CompletedEntry(userID, outcome, s.opts.now()))
}

// MarkFailed implements Store.
func (s *SQLiteStore) MarkFailed(ctx context.Context, userID, reason string) error {
	if err := checkUserID(userID); err != nil {
		return err
	}
	return s.upsert(ctx, datatypes.FailedEntry(userID, reason, s.opts.now()))
}

func (s *SQLiteStore) upsert(ctx context.Context, e datatypes.LedgerEntry) error {
	sources, err := json.Marshal(nonNil(e.SourceCollections))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, upsertSQL,
		e.UserID,
		string(e.Status),
		e.ContentID,
		e.Filename,
		e.ByteSize,
		string(sources),
		e.PublicURL,
		e.Reason,
		e.ProcessedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("ledger write %s: %w", e.UserID, err)
	}
	return nil
}

// IsCompleted implements Store.
func (s *SQLiteStore) IsCompleted(ctx context.Context, userID string) (bool, error) {
	if err := checkUserID(userID); err != nil {
		return false, err
	}
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM ledger_entries WHERE user_id = ?`, userID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger lookup %s: %w", userID, err)
	}
	return datatypes.LedgerStatus(status) == datatypes.StatusCompleted, nil
}

// ListCompleted implements Store.
func (s *SQLiteStore) ListCompleted(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM ledger_entries WHERE status = 'completed'`)
	if err != nil {
		return nil, fmt.Errorf("ledger list completed: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ledger list completed: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, userID string) (datatypes.LedgerEntry, error) {
	if err := checkUserID(userID); err != nil {
		return datatypes.LedgerEntry{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM ledger_entries WHERE user_id = ?`, userID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return datatypes.LedgerEntry{}, fmt.Errorf("%s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return datatypes.LedgerEntry{}, fmt.Errorf("ledger get %s: %w", userID, err)
	}
	return entry, nil
}

// ListByStatus implements Store.
func (s *SQLiteStore) ListByStatus(ctx context.Context, status datatypes.LedgerStatus) ([]datatypes.LedgerEntry, error) {
	if err := checkStatus(status); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM ledger_entries WHERE status = ? ORDER BY user_id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("ledger list %s: %w", status, err)
	}
	defer rows.Close()

	var entries []datatypes.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger list %s: %w", status, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (datatypes.LedgerEntry, error) {
	var (
		e           datatypes.LedgerEntry
		status      string
		sources     string
		processedAt string
	)
	err := row.Scan(
		&e.UserID,
		&status,
		&e.ContentID,
		&e.Filename,
		&e.ByteSize,
		&sources,
		&e.PublicURL,
		&e.Reason,
		&processedAt,
		&e.Attempts,
	)
	if err != nil {
		return datatypes.LedgerEntry{}, err
	}
	e.Status = datatypes.LedgerStatus(status)

	if err := json.Unmarshal([]byte(sources), &e.SourceCollections); err != nil {
		return datatypes.LedgerEntry{}, fmt.Errorf("decode source collections: %w", err)
	}
	if len(e.SourceCollections) == 0 {
		e.SourceCollections = nil
	}
	e.ProcessedAt, err = time.Parse(time.RFC3339Nano, processedAt)
	if err != nil {
		return datatypes.LedgerEntry{}, fmt.Errorf("decode processed_at: %w", err)
	}
	return e, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
