// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the reconciler's operator API over HTTP.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianVault/pkg/validation"
	"github.com/AleutianAI/AleutianVault/services/reconciler"
	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
	"github.com/AleutianAI/AleutianVault/services/reconciler/publisher"
)

// Controller is the part of *reconciler.Reconciler the handlers drive.
type Controller interface {
	Status() datatypes.ReconcilerStatus
	TriggerNow() error
	ResetStats()
	LookupExport(ctx context.Context, userID string) (datatypes.LedgerEntry, error)
}

// ContentStater checks a content id against the pinning service.
type ContentStater interface {
	Stat(ctx context.Context, cid string) (publisher.StatResult, error)
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// GetStatus returns the run state and statistics.
func GetStatus(ctrl Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, ctrl.Status())
	}
}

// TriggerCycle starts an out-of-band cycle.
//
// Responds 202 when a cycle was started and 409 when one is already
// running. The cycle is not tied to the request and survives disconnects.
func TriggerCycle(ctrl Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := ctrl.TriggerNow()
		if errors.Is(err, reconciler.ErrBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": "reconciliation already running"})
			return
		}
		if err != nil {
			slog.Error("Failed to trigger reconciliation", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to trigger reconciliation"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "started"})
	}
}

func ResetStats(ctrl Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctrl.ResetStats()
		c.JSON(http.StatusOK, gin.H{"status": "reset", "stats": ctrl.Status().Stats})
	}
}

// GetExport returns a user's Completed ledger entry, or 404.
func GetExport(ctrl Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, ok := lookupExport(c, ctrl)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

// GetExportContent reports whether a user's exported content is still
// pinned.
func GetExportContent(ctrl Controller, stater ContentStater) gin.HandlerFunc {
	return func(c *gin.Context) {
		if stater == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "content lookup not configured"})
			return
		}
		entry, ok := lookupExport(c, ctrl)
		if !ok {
			return
		}

		stat, err := stater.Stat(c.Request.Context(), entry.ContentID)
		if err != nil {
			slog.Warn("Content stat failed",
				"user_id", entry.UserID,
				"content_id", entry.ContentID,
				"error", err,
			)
			c.JSON(http.StatusBadGateway, gin.H{"error": publisher.Reason(err)})
			return
		}
		c.JSON(http.StatusOK, stat)
	}
}

func lookupExport(c *gin.Context, ctrl Controller) (datatypes.LedgerEntry, bool) {
	userID, err := validation.SanitizeUserID(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return datatypes.LedgerEntry{}, false
	}

	entry, err := ctrl.LookupExport(c.Request.Context(), userID)
	switch {
	case err == nil:
		return entry, true
	case errors.Is(err, reconciler.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "export not found", "user_id": userID})
	default:
		slog.Error("Export lookup failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
	}
	return datatypes.LedgerEntry{}, false
}
