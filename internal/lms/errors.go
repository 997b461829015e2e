// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package lms implements the client for the external learning-management
// API: credential normalization, paginated list fetching via the Link
// response header, per-item submission lookups, and a bounded-concurrency
// fan-out helper.
package lms

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// NetworkError wraps a transport-level failure (DNS, connect, timeout).
type NetworkError struct {
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

// Unwrap returns the underlying transport error.
func (e *NetworkError) Unwrap() error { return e.Err }

// UpstreamError is a non-2xx response from the LMS API.
type UpstreamError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream error (HTTP %d): %s", e.Status, e.Body)
	}
	return fmt.Sprintf("upstream error (HTTP %d)", e.Status)
}

// ProtocolError indicates a response that was not the JSON shape the API
// contract promises.
type ProtocolError struct {
	Msg string
	Err error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Msg, e.Err)
	}
	return "protocol error: " + e.Msg
}

// Unwrap returns the underlying decode error, if any.
func (e *ProtocolError) Unwrap() error { return e.Err }

// IsAuthError reports whether err looks like a credentials problem: a
// 400/401/403 upstream status or a validation-shaped error message. Callers
// use this to surface "fix your token" instead of retrying collection.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		switch ue.Status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid access token") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "user authorisation required")
}
