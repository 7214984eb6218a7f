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
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianVault/pkg/telemetry"
	"github.com/AleutianAI/AleutianVault/services/reconciler/config"
	"github.com/AleutianAI/AleutianVault/services/reconciler/middleware"
	"github.com/AleutianAI/AleutianVault/services/reconciler/routes"
)

const shutdownTimeout = 30 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Slog()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{
		registerer:    prometheus.DefaultRegisterer,
		withTelemetry: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Error("Shutdown finished with errors", "error", err)
		}
	}()

	if err := a.reconciler.Start(ctx); err != nil {
		return err
	}

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, cfg.Schedule, func(s config.ScheduleConfig) {
			if err := a.reconciler.UpdateSchedule(s.Interval, s.InterUserDelay); err != nil {
				log.Warn("Schedule update rejected", "error", err)
			}
		}, log)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			log.Warn("Config hot reload disabled", "error", err)
		}
		defer watcher.Stop()
	}

	operatorToken, err := cfg.OperatorToken()
	if err != nil {
		return err
	}
	if len(operatorToken) == 0 {
		log.Warn("VAULT_OPERATOR_TOKEN not set, operator API is unauthenticated")
	}

	gin.SetMode(gin.ReleaseMode)
	router := routes.NewRouter()
	routes.SetupRoutes(router, a.reconciler, a.publisher, metricsHandler(), middleware.SealToken(operatorToken))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting reconciler API", "address", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down reconciler")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// metricsHandler prefers the OTel Prometheus exporter's handler, which also
// serves the default registry, and falls back to promhttp.
func metricsHandler() http.Handler {
	if h := telemetry.MetricsHandler(); h != nil {
		return h
	}
	return promhttp.Handler()
}
