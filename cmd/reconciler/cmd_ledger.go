// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianVault/pkg/validation"
	"github.com/AleutianAI/AleutianVault/services/reconciler/config"
	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
	"github.com/AleutianAI/AleutianVault/services/reconciler/ledger"
)

func withLedger(fn func(ledger.Store) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	store, err := openLedger(cfg.Ledger, logger.Slog())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func runLedgerGet(cmd *cobra.Command, args []string) error {
	userID, err := validation.SanitizeUserID(args[0])
	if err != nil {
		return err
	}
	return withLedger(func(store ledger.Store) error {
		entry, err := store.Get(cmd.Context(), userID)
		if errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("no ledger entry for %s", userID)
		}
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), entry)
	})
}

func runLedgerList(cmd *cobra.Command, _ []string) error {
	raw, err := cmd.Flags().GetString("status")
	if err != nil {
		return err
	}
	status := datatypes.LedgerStatus(raw)
	if !status.Valid() {
		return fmt.Errorf("unknown status %q (want %s or %s)", raw, datatypes.StatusCompleted, datatypes.StatusFailed)
	}
	return withLedger(func(store ledger.Store) error {
		entries, err := store.ListByStatus(cmd.Context(), status)
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []datatypes.LedgerEntry{}
		}
		return writeJSON(cmd.OutOrStdout(), entries)
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
