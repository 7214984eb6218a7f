// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware holds gin middleware for the operator API.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
)

// OperatorAuth guards the operator API with a shared bearer token.
//
// # Description
//
// The expected token is sealed in a memguard enclave and only unsealed for
// the constant-time comparison. A nil enclave disables the check, which is
// how a local deployment without VAULT_OPERATOR_TOKEN runs.
//
// # Inputs
//
//   - token: Sealed operator token, or nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Aborts with 401 on a missing or wrong token.
//
// # Examples
//
//	v1 := router.Group("/v1")
//	v1.Use(middleware.OperatorAuth(enclave))
//
// # Thread Safety
//
// Thread-safe.
func OperatorAuth(token *memguard.Enclave) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == nil {
			c.Next()
			return
		}

		presented := extractBearerToken(c)
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		expected, err := token.Open()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authentication unavailable"})
			return
		}
		ok := subtle.ConstantTimeCompare(expected.Bytes(), []byte(presented)) == 1
		expected.Destroy()

		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// SealToken wraps a raw token in an enclave. An empty token yields nil.
// The input slice is wiped.
func SealToken(raw []byte) *memguard.Enclave {
	if len(raw) == 0 {
		return nil
	}
	return memguard.NewEnclave(raw)
}

// extractBearerToken returns the token from "Authorization: Bearer <token>".
// The scheme is case-insensitive per RFC 7235. Anything else yields "".
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
