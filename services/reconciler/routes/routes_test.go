// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianVault/services/reconciler"
	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
	"github.com/AleutianAI/AleutianVault/services/reconciler/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubController struct{}

func (stubController) Status() datatypes.ReconcilerStatus { return datatypes.ReconcilerStatus{State: "idle"} }
func (stubController) TriggerNow() error                  { return reconciler.ErrBusy }
func (stubController) ResetStats()                        {}
func (stubController) LookupExport(context.Context, string) (datatypes.LedgerEntry, error) {
	return datatypes.LedgerEntry{}, reconciler.ErrNotFound
}

func TestSetupRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "vault_test_total", Help: "test"}).Inc()

	router := NewRouter()
	SetupRoutes(router, stubController{}, nil, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/v1/reconciler/status", http.StatusOK},
		{http.MethodPost, "/v1/reconciler/trigger", http.StatusConflict},
		{http.MethodPost, "/v1/reconciler/reset", http.StatusOK},
		{http.MethodGet, "/v1/exports/alice", http.StatusNotFound},
		{http.MethodGet, "/v1/exports/alice/content", http.StatusServiceUnavailable},
		{http.MethodGet, "/v1/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.path, nil)
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestSetupRoutes_MetricsOptional(t *testing.T) {
	router := NewRouter()
	SetupRoutes(router, stubController{}, nil, nil, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetupRoutes_OperatorToken(t *testing.T) {
	router := NewRouter()
	SetupRoutes(router, stubController{}, nil, nil, middleware.SealToken([]byte("op-token")))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code, "health stays open")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/reconciler/reset", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/reconciler/reset", nil)
	req.Header.Set("Authorization", "Bearer op-token")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
