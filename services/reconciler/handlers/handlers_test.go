// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianVault/services/reconciler"
	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
	"github.com/AleutianAI/AleutianVault/services/reconciler/publisher"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testCID = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

type fakeController struct {
	status     datatypes.ReconcilerStatus
	triggerErr error
	triggered  int
	resets     int
	entries    map[string]datatypes.LedgerEntry
	lookupErr  error
}

func (f *fakeController) Status() datatypes.ReconcilerStatus { return f.status }

func (f *fakeController) TriggerNow() error {
	f.triggered++
	return f.triggerErr
}

func (f *fakeController) ResetStats() {
	f.resets++
	f.status.Stats = datatypes.RunStatistics{}
}

func (f *fakeController) LookupExport(_ context.Context, userID string) (datatypes.LedgerEntry, error) {
	if f.lookupErr != nil {
		return datatypes.LedgerEntry{}, f.lookupErr
	}
	entry, ok := f.entries[userID]
	if !ok {
		return datatypes.LedgerEntry{}, fmt.Errorf("%s: %w", userID, reconciler.ErrNotFound)
	}
	return entry, nil
}

type fakeStater struct {
	result publisher.StatResult
	err    error
	asked  string
}

func (f *fakeStater) Stat(_ context.Context, cid string) (publisher.StatResult, error) {
	f.asked = cid
	return f.result, f.err
}

func serve(t *testing.T, method, path string, register func(*gin.Engine)) *httptest.ResponseRecorder {
	t.Helper()
	router := gin.New()
	register(router)

	w := httptest.NewRecorder()
	req, err := http.NewRequest(method, path, nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)
	return w
}

func completedEntry() datatypes.LedgerEntry {
	return datatypes.CompletedEntry("alice", datatypes.CompletedOutcome{
		ContentID:         testCID,
		Filename:          "user-export-alice-1.json",
		ByteSize:          42,
		SourceCollections: []string{"users"},
		PublicURL:         "https://gateway.example/ipfs/" + testCID,
	}, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
}

// =============================================================================
// Reconciler control
// =============================================================================

func TestHealthCheck(t *testing.T) {
	w := serve(t, http.MethodGet, "/health", func(r *gin.Engine) { r.GET("/health", HealthCheck) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestGetStatus(t *testing.T) {
	ctrl := &fakeController{status: datatypes.ReconcilerStatus{
		IsRunning:      true,
		State:          "running",
		ProcessedCount: 7,
		Stats:          datatypes.RunStatistics{TotalProcessed: 3, Successful: 3, Failed: 1},
		InvalidIDs:     []string{"$ne"},
	}}
	w := serve(t, http.MethodGet, "/status", func(r *gin.Engine) { r.GET("/status", GetStatus(ctrl)) })
	require.Equal(t, http.StatusOK, w.Code)

	var got datatypes.ReconcilerStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, ctrl.status, got)
}

func TestTriggerCycle(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"started", nil, http.StatusAccepted},
		{"busy", reconciler.ErrBusy, http.StatusConflict},
		{"other failure", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{triggerErr: tt.err}
			w := serve(t, http.MethodPost, "/trigger", func(r *gin.Engine) { r.POST("/trigger", TriggerCycle(ctrl)) })
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, 1, ctrl.triggered)
		})
	}
}

func TestResetStats(t *testing.T) {
	ctrl := &fakeController{status: datatypes.ReconcilerStatus{Stats: datatypes.RunStatistics{Successful: 5}}}
	w := serve(t, http.MethodPost, "/reset", func(r *gin.Engine) { r.POST("/reset", ResetStats(ctrl)) })
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ctrl.resets)
	assert.Contains(t, w.Body.String(), `"successful":0`)
}

// =============================================================================
// Exports
// =============================================================================

func TestGetExport(t *testing.T) {
	ctrl := &fakeController{entries: map[string]datatypes.LedgerEntry{"alice": completedEntry()}}
	register := func(r *gin.Engine) { r.GET("/exports/:userId", GetExport(ctrl)) }

	w := serve(t, http.MethodGet, "/exports/alice", register)
	require.Equal(t, http.StatusOK, w.Code)
	var got datatypes.LedgerEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, testCID, got.ContentID)

	w = serve(t, http.MethodGet, "/exports/bob", register)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(t, http.MethodGet, "/exports/$ne", register)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetExport_LedgerError(t *testing.T) {
	ctrl := &fakeController{lookupErr: errors.New("disk gone")}
	w := serve(t, http.MethodGet, "/exports/alice", func(r *gin.Engine) { r.GET("/exports/:userId", GetExport(ctrl)) })
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk gone")
}

func TestGetExportContent(t *testing.T) {
	ctrl := &fakeController{entries: map[string]datatypes.LedgerEntry{"alice": completedEntry()}}

	t.Run("pinned", func(t *testing.T) {
		stater := &fakeStater{result: publisher.StatResult{ContentID: testCID, Pinned: true, Size: 42}}
		w := serve(t, http.MethodGet, "/exports/alice/content", func(r *gin.Engine) {
			r.GET("/exports/:userId/content", GetExportContent(ctrl, stater))
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, testCID, stater.asked)
		assert.Contains(t, w.Body.String(), `"pinned":true`)
	})

	t.Run("upstream failure", func(t *testing.T) {
		stater := &fakeStater{err: &publisher.PublishError{StatusCode: 401, Reason: "bad jwt", Err: publisher.ErrUnexpectedStatus}}
		w := serve(t, http.MethodGet, "/exports/alice/content", func(r *gin.Engine) {
			r.GET("/exports/:userId/content", GetExportContent(ctrl, stater))
		})
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Contains(t, w.Body.String(), "bad jwt")
	})

	t.Run("unknown user", func(t *testing.T) {
		stater := &fakeStater{}
		w := serve(t, http.MethodGet, "/exports/bob/content", func(r *gin.Engine) {
			r.GET("/exports/:userId/content", GetExportContent(ctrl, stater))
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Empty(t, stater.asked)
	})

	t.Run("not configured", func(t *testing.T) {
		w := serve(t, http.MethodGet, "/exports/alice/content", func(r *gin.Engine) {
			r.GET("/exports/:userId/content", GetExportContent(ctrl, nil))
		})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
