// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package approval

import "fmt"

// ValidationError rejects an operation before any state mutation: a required
// field is missing or malformed.
type ValidationError struct {
	Field string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: missing required field %q", e.Field)
}

// PersistenceError wraps a backing-store write failure. The optimistic local
// mutation has been rolled back by the time the caller sees this.
type PersistenceError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying store error.
func (e *PersistenceError) Unwrap() error { return e.Err }

// StaleStateError indicates the item an operation targeted vanished from
// local state because of a concurrent change. The review index has been
// clamped; callers usually treat this as a silent no-op.
type StaleStateError struct {
	Key string
}

// Error implements the error interface.
func (e *StaleStateError) Error() string {
	return fmt.Sprintf("stale state: item %q is no longer present", e.Key)
}
