// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store defines the persistence contracts the sync engine is built
// against: a durable local key-value store and a principal-scoped remote
// backend. The engine never talks to a storage engine directly; it holds one
// of these interfaces.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jeranaias/coursedue/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write collides with concurrent state,
	// e.g. inserting a task whose external identity already exists.
	ErrConflict = errors.New("write conflict")
)

// =============================================================================
// LOCAL KEY-VALUE STORE
// =============================================================================

// KV is the durable local key-value store used for the pending-candidate
// cache and session/credential storage. Get returns (nil, nil) for a missing
// key.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Remove(key string) error
}

// =============================================================================
// PRINCIPAL
// =============================================================================

// Principal identifies the authenticated user a backend is scoped to.
// Backends are obtained through Opener.ForUser so that a query that forgot
// its user scope is a type error, not a data leak.
type Principal struct {
	UserID string
}

// Opener hands out per-user backends.
type Opener interface {
	ForUser(p Principal) Backend
}

// =============================================================================
// PATCHES
// =============================================================================

// TaskPatch is a partial task update; nil fields are left untouched
// (PATCH semantics per the backend contract).
type TaskPatch struct {
	Title      *string
	DueAt      *time.Time
	CategoryID *string
	Type       *model.TaskType
	Status     *model.TaskStatus
	Notes      *string
	URL        *string
	ExternalID *string
	Points     *float64

	DueDateLocked *bool
	StatusLocked  *bool
}

// CategoryPatch is a partial category update.
type CategoryPatch struct {
	Name             *string
	Color            *string
	ExternalCourseID *int64
	SyncEnabled      *bool
	SortOrder        *int
}

// =============================================================================
// REMOTE BACKEND
// =============================================================================

// Backend is the relational backing store for one user's data. Every method
// operates within the principal the backend was opened for.
type Backend interface {
	Tasks(ctx context.Context) ([]model.Task, error)
	CreateTask(ctx context.Context, t model.Task) (model.Task, error)
	UpdateTask(ctx context.Context, id string, patch TaskPatch) error
	DeleteTask(ctx context.Context, id string) error

	Categories(ctx context.Context) ([]model.Category, error)
	CreateCategory(ctx context.Context, c model.Category) (model.Category, error)
	UpdateCategory(ctx context.Context, id string, patch CategoryPatch) error

	Rejections(ctx context.Context) ([]model.RejectionRecord, error)
	CreateRejection(ctx context.Context, r model.RejectionRecord) error

	Settings(ctx context.Context) (model.Settings, error)
	UpdateSettings(ctx context.Context, s model.Settings) error

	CreateMergeAudit(ctx context.Context, a model.MergeAudit) error
}

// =============================================================================
// HELPERS
// =============================================================================

// StrPtr, TimePtr and friends make patch construction readable at call sites.

func StrPtr(s string) *string { return &s }

func TimePtr(t time.Time) *time.Time { return &t }

func StatusPtr(s model.TaskStatus) *model.TaskStatus { return &s }

func Int64Ptr(n int64) *int64 { return &n }

func BoolPtr(b bool) *bool { return &b }
