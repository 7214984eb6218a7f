// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package publisher

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCredentials is returned when no pinning token was configured.
	ErrNoCredentials = errors.New("publisher: no pinning credentials configured")

	// ErrUnexpectedStatus marks a non-2xx response from the pinning service.
	ErrUnexpectedStatus = errors.New("publisher: unexpected status")

	// ErrMalformedResponse marks a 2xx response that could not be decoded.
	ErrMalformedResponse = errors.New("publisher: malformed response")

	// ErrInvalidContentID marks a response whose content id is missing or
	// not a CID.
	ErrInvalidContentID = errors.New("publisher: invalid content id")

	// ErrBodyTooLarge is returned before any request when the envelope
	// exceeds the configured limit.
	ErrBodyTooLarge = errors.New("publisher: envelope exceeds body limit")
)

// PublishError is the typed failure of Publish and Stat.
//
// Reason carries the upstream response body, or the transport error
// message, verbatim. It is what the ledger records for a failed user.
type PublishError struct {
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Reason is the verbatim upstream body or error message.
	Reason string

	// Err is the classified cause. Use errors.Is against the sentinels.
	Err error
}

func (e *PublishError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("publish failed (status %d): %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("publish failed: %s", e.Reason)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Reason extracts the ledger reason from any publish error.
func Reason(err error) string {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
