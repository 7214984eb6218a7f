// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reconciler

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
)

// CycleSink receives a report for every finished cycle.
type CycleSink interface {
	RecordCycle(ctx context.Context, report datatypes.CycleReport) error
}

// InfluxConfig configures the InfluxDB cycle history sink.
type InfluxConfig struct {
	URL    string `yaml:"url" toml:"url" validate:"omitempty,url"`
	Token  string `yaml:"token" toml:"token"`
	Org    string `yaml:"org" toml:"org"`
	Bucket string `yaml:"bucket" toml:"bucket"`
}

// pointWriter is the slice of api.WriteAPIBlocking the sink uses.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes one reconcile_cycle point per finished cycle.
type InfluxSink struct {
	client influxdb2.Client
	writer pointWriter
}

// NewInfluxSink connects a blocking writer to cfg.Org and cfg.Bucket.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx sink: url, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// RecordCycle implements CycleSink.
func (s *InfluxSink) RecordCycle(ctx context.Context, report datatypes.CycleReport) error {
	p := influxdb2.NewPoint(
		"reconcile_cycle",
		map[string]string{
			"trigger": report.Trigger,
			"result":  cycleResult(report),
		},
		map[string]interface{}{
			"cycle_id":         report.CycleID,
			"candidates":       report.Candidates,
			"successful":       report.Successful,
			"failed":           report.Failed,
			"invalid_ids":      report.InvalidIDs,
			"duration_seconds": report.Duration.Seconds(),
		},
		report.StartedAt,
	)
	if err := s.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write reconcile_cycle point: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// cycleResult labels a report: failed, empty, or ok.
func cycleResult(report datatypes.CycleReport) string {
	switch {
	case report.Err != nil:
		return "failed"
	case report.Candidates == 0:
		return "empty"
	default:
		return "ok"
	}
}
