// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command reconciler runs the Aleutian Vault export reconciler.
//
// The reconciler periodically finds users without a completed export,
// aggregates their records from the document store, pins the export
// envelope to IPFS and records the outcome in a local ledger.
//
// Usage:
//
//	reconciler serve --config vault.yaml
//	reconciler run-once --config vault.yaml
//	reconciler ledger get <user-id>
//	reconciler ledger list --status failed
//
// The pinning JWT is read from VAULT_PINNING_JWT or publisher.token_file.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "reconciler",
		Short:         "Export reconciler for Aleutian Vault",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled reconciler and the operator HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	runOnceCmd = &cobra.Command{
		Use:   "run-once",
		Short: "Run a single reconciliation cycle and print its report",
		Args:  cobra.NoArgs,
		RunE:  runOnce, // Defined in cmd_run_once.go
	}

	ledgerCmd = &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the export ledger",
	}
	ledgerGetCmd = &cobra.Command{
		Use:   "get <user-id>",
		Short: "Show the ledger entry for a user",
		Args:  cobra.ExactArgs(1),
		RunE:  runLedgerGet, // Defined in cmd_ledger.go
	}
	ledgerListCmd = &cobra.Command{
		Use:   "list",
		Short: "List ledger entries by status",
		Args:  cobra.NoArgs,
		RunE:  runLedgerList, // Defined in cmd_ledger.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("VAULT_CONFIG"),
		"path to a YAML or TOML config file (env VAULT_CONFIG)")

	ledgerListCmd.Flags().String("status", "completed", "status to list: completed or failed")

	ledgerCmd.AddCommand(ledgerGetCmd, ledgerListCmd)
	rootCmd.AddCommand(serveCmd, runOnceCmd, ledgerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
