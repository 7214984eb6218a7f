// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for values that end up inside
// document store filters, ledger keys, or object storage paths.
//
// User identifiers come from the primary user collection, but they are also
// accepted from operators over HTTP and the CLI. Validating them before use
// keeps operator-controlled strings out of query operators ("$where", "$ne")
// and out of key prefixes in the ledger.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// userIDPattern matches document ids produced by the common document stores:
// Firestore push ids, MongoDB ObjectID hex, UUIDs, emails and provider subjects
// like "google-oauth2:123". Slashes are rejected because the ledger and the
// archive use them as key separators.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-.:@]{0,127}$`)

// collectionPattern matches collection names we are willing to address.
var collectionPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

// fieldPattern matches top-level document field names used in equality filters.
var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// ValidateUserID validates a user identifier before it is used as a join key.
//
// Valid identifiers:
//   - 1-128 characters
//   - start with a letter or digit
//   - letters, digits, underscore, hyphen, dot, colon, at-sign
//
// Example:
//
//	if err := validation.ValidateUserID(id); err != nil {
//	    return fmt.Errorf("invalid user id: %w", err)
//	}
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if !userIDPattern.MatchString(id) {
		return fmt.Errorf("invalid user id format: %q (must be 1-128 chars of letters, digits, '_', '-', '.', ':', '@')", id)
	}
	return nil
}

// SanitizeUserID trims surrounding whitespace and validates the result.
//
// Identifiers are case-sensitive, so no case folding is applied.
func SanitizeUserID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateUserID(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// ValidateCollectionName validates a configured collection name.
func ValidateCollectionName(name string) error {
	if !collectionPattern.MatchString(name) {
		return fmt.Errorf("invalid collection name: %q", name)
	}
	return nil
}

// ValidateFieldName validates a field name used in an equality filter.
// Names starting with '$' are operators in MongoDB and are always rejected.
func ValidateFieldName(name string) error {
	if !fieldPattern.MatchString(name) {
		return fmt.Errorf("invalid field name: %q", name)
	}
	return nil
}
