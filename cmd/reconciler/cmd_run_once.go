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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianVault/services/reconciler/config"
)

type runOnceOutput struct {
	CycleID    string `json:"cycleId"`
	Candidates int    `json:"candidates"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	InvalidIDs int    `json:"invalidIds"`
	DurationMS int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// runOnce executes one cycle synchronously. Per-user failures are reported,
// not returned; only a failed cycle makes the command exit non-zero.
func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	report, cycleErr := a.reconciler.RunOnce(ctx)
	out := runOnceOutput{
		CycleID:    report.CycleID,
		Candidates: report.Candidates,
		Successful: report.Successful,
		Failed:     report.Failed,
		InvalidIDs: report.InvalidIDs,
		DurationMS: report.Duration.Milliseconds(),
	}
	if cycleErr != nil {
		out.Error = cycleErr.Error()
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if cycleErr != nil {
		return fmt.Errorf("reconciliation cycle failed: %w", cycleErr)
	}
	return nil
}
