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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianVault/pkg/logging"
	"github.com/AleutianAI/AleutianVault/pkg/telemetry"
	"github.com/AleutianAI/AleutianVault/services/reconciler"
	"github.com/AleutianAI/AleutianVault/services/reconciler/aggregator"
	"github.com/AleutianAI/AleutianVault/services/reconciler/config"
	"github.com/AleutianAI/AleutianVault/services/reconciler/docstore"
	"github.com/AleutianAI/AleutianVault/services/reconciler/ledger"
	"github.com/AleutianAI/AleutianVault/services/reconciler/lookup"
	"github.com/AleutianAI/AleutianVault/services/reconciler/packager"
	"github.com/AleutianAI/AleutianVault/services/reconciler/publisher"
	vaultbadger "github.com/AleutianAI/AleutianVault/services/reconciler/storage/badger"
)

// app holds every long-lived component built from a Config.
type app struct {
	cfg        config.Config
	logger     *logging.Logger
	store      docstore.Store
	ledger     ledger.Store
	publisher  *publisher.Publisher
	archiver   publisher.Archiver
	sink       *reconciler.InfluxSink
	reconciler *reconciler.Reconciler

	closers []func(context.Context) error
}

// appOptions lets tests swap the registry and skip telemetry.
type appOptions struct {
	registerer    prometheus.Registerer
	withTelemetry bool
}

// newLogger builds the process logger and installs it as the slog default.
func newLogger(cfg config.Config) (*logging.Logger, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	slog.SetDefault(logger.Slog())
	return logger, nil
}

// openLedger opens only the ledger. Used by the ledger subcommands.
func openLedger(cfg config.LedgerConfig, logger *slog.Logger) (ledger.Store, error) {
	var (
		store ledger.Store
		err   error
	)
	switch cfg.Backend {
	case config.LedgerSQLite:
		store, err = ledger.OpenSQLite(cfg.Path)
	case config.LedgerBadger, "":
		bcfg := vaultbadger.DefaultConfig(cfg.Path)
		bcfg.Logger = logger
		store, err = ledger.OpenBadger(bcfg)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s ledger at %s: %w", cfg.Backend, cfg.Path, err)
	}
	if cfg.Cache {
		return ledger.NewCachedStore(store), nil
	}
	return store, nil
}

func openStore(ctx context.Context, cfg config.DocStoreConfig, logger *slog.Logger) (docstore.Store, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		mem := docstore.NewMemoryStore()
		if cfg.SeedFile == "" {
			return mem, nil
		}
		f, err := os.Open(cfg.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("open seed: %w", err)
		}
		defer f.Close()
		n, err := docstore.LoadSeed(mem, f)
		if err != nil {
			return nil, err
		}
		logger.Info("Memory store seeded", "path", cfg.SeedFile, "documents", n)
		return mem, nil
	default:
		return docstore.OpenMongo(ctx, cfg.Mongo, logger)
	}
}

// newApp wires the full pipeline.
//
// # Description
//
// Components are opened in dependency order and registered for closing in
// reverse. On error everything opened so far is closed.
func newApp(ctx context.Context, cfg config.Config, logger *logging.Logger, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()
	log := logger.Slog()

	if opts.withTelemetry {
		shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		a.closers = append(a.closers, shutdown)
	}

	a.store, err = openStore(ctx, cfg.DocStore, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	a.ledger, err = openLedger(cfg.Ledger, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.ledger.Close() })

	token, err := cfg.PinningToken()
	if err != nil {
		return nil, err
	}
	if len(token) == 0 {
		log.Warn("No pinning token configured, every publish will fail until one is set")
	}
	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	a.publisher = publisher.New(cfg.Publisher.Config, token, httpClient, log)

	if cfg.Archive.Bucket != "" {
		archiver, err := publisher.NewGCSArchiver(ctx, cfg.Archive, log)
		if err != nil {
			return nil, err
		}
		a.archiver = archiver
		a.closers = append(a.closers, func(context.Context) error { return archiver.Close() })
	}

	if cfg.Influx.URL != "" {
		sink, err := reconciler.NewInfluxSink(cfg.Influx)
		if err != nil {
			return nil, err
		}
		a.sink = sink
		a.closers = append(a.closers, func(context.Context) error { sink.Close(); return nil })
	}

	lookupMetrics, err := telemetry.NewLookupMetrics(otel.Meter("vault.lookup"))
	if err != nil {
		return nil, fmt.Errorf("lookup metrics: %w", err)
	}
	sources := lookup.DefaultSources(a.store, cfg.Collections, log)
	agg := aggregator.New(aggregator.FromLookup(sources),
		aggregator.WithLookupTimeout(cfg.Schedule.LookupTimeout),
		aggregator.WithLogger(log),
		aggregator.WithMetrics(lookupMetrics),
	)

	deps := reconciler.Deps{
		Users:      a.store,
		Aggregator: agg,
		Packager:   packager.New(time.Now),
		Publisher:  a.publisher,
		Ledger:     a.ledger,
		Metrics:    reconciler.NewMetrics(opts.registerer),
		Logger:     log,
	}
	if a.archiver != nil {
		deps.Archiver = a.archiver
	}
	if a.sink != nil {
		deps.Sink = a.sink
	}

	a.reconciler, err = reconciler.New(reconciler.Config{
		Interval:       cfg.Schedule.Interval,
		InterUserDelay: cfg.Schedule.InterUserDelay,
		UserCollection: cfg.Collections.Users,
	}, deps)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close stops the reconciler and closes components in reverse order.
func (a *app) Close(ctx context.Context) error {
	if a.reconciler != nil {
		a.reconciler.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
