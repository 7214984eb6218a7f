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
	"net/http"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianVault/services/reconciler/handlers"
	"github.com/AleutianAI/AleutianVault/services/reconciler/middleware"
)

// ServiceName tags the server spans created by otelgin.
const ServiceName = "aleutian-vault-reconciler"

// NewRouter returns a gin engine with recovery and tracing middleware.
func NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))
	return router
}

// SetupRoutes registers the operator API. metrics may be nil, in which case
// /metrics is not served. stater may be nil when no pinning credentials are
// configured. A non-nil operatorToken gates everything under /v1.
func SetupRoutes(router *gin.Engine, ctrl handlers.Controller, stater handlers.ContentStater,
	metrics http.Handler, operatorToken *memguard.Enclave) {
	router.GET("/health", handlers.HealthCheck)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := router.Group("/v1")
	v1.Use(middleware.OperatorAuth(operatorToken))
	{
		rec := v1.Group("/reconciler")
		{
			rec.GET("/status", handlers.GetStatus(ctrl))
			rec.POST("/trigger", handlers.TriggerCycle(ctrl))
			rec.POST("/reset", handlers.ResetStats(ctrl))
		}
		exports := v1.Group("/exports")
		{
			exports.GET("/:userId", handlers.GetExport(ctrl))
			exports.GET("/:userId/content", handlers.GetExportContent(ctrl, stater))
		}
	}
}
