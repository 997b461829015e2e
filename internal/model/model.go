// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model defines the core data types shared across the sync engine:
// candidate assignments fetched from the LMS, locally-owned tasks and
// categories, rejection records, and merge resolutions.
package model

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// TASK STATUS
// =============================================================================

// TaskStatus is the state of a task in its lifecycle.
//
// The state machine is incomplete -> in_progress -> complete, plus the
// direct incomplete -> complete shortcut. Automatic transitions (driven by
// submission detection) only move forward to complete; only a user edit can
// revert a completed task.
type TaskStatus string

const (
	StatusIncomplete TaskStatus = "incomplete"
	StatusInProgress TaskStatus = "in_progress"
	StatusComplete   TaskStatus = "complete"
)

// Valid reports whether s is a known status value.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusIncomplete, StatusInProgress, StatusComplete:
		return true
	}
	return false
}

// IsComplete reports whether the status is the terminal complete state.
func (s TaskStatus) IsComplete() bool {
	return s == StatusComplete
}

// =============================================================================
// TASK TYPE
// =============================================================================

// TaskType tags a task with the kind of coursework it represents.
type TaskType string

const (
	TypeAssignment TaskType = "assignment"
	TypeQuiz       TaskType = "quiz"
	TypeExam       TaskType = "exam"
	TypeHomework   TaskType = "homework"
	TypeLab        TaskType = "lab"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TypeAssignment, TypeQuiz, TypeExam, TypeHomework, TypeLab:
		return true
	}
	return false
}

// =============================================================================
// EXTERNAL IDENTITY
// =============================================================================

// ExternalKey builds the stable composite identity for an LMS assignment.
// The "<course>-<assignment>" form is the only representation persisted; it
// is unique within one user's task store.
func ExternalKey(courseID, assignmentID int64) string {
	return fmt.Sprintf("%d-%d", courseID, assignmentID)
}

// SplitExternalKey parses a composite external identity back into course and
// assignment IDs. Returns false if the key is not in "<course>-<assignment>"
// form.
func SplitExternalKey(key string) (courseID, assignmentID int64, ok bool) {
	i := strings.IndexByte(key, '-')
	if i <= 0 || i == len(key)-1 {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(key, "%d-%d", &courseID, &assignmentID); err != nil {
		return 0, 0, false
	}
	return courseID, assignmentID, true
}

// =============================================================================
// CANDIDATE ASSIGNMENT
// =============================================================================

// CandidateAssignment is an external assignment that has not yet been turned
// into a local task. Candidates are ephemeral: recomputed on every fetch and
// never persisted as-is (the pending-list cache holds the current batch only).
type CandidateAssignment struct {
	CourseID     int64     `json:"course_id"`
	AssignmentID int64     `json:"assignment_id"`
	Title        string    `json:"title"`
	DueAt        time.Time `json:"due_at"`
	CourseName   string    `json:"course_name"`
	URL          string    `json:"url,omitempty"`
	Description  string    `json:"description,omitempty"`
	Points       float64   `json:"points,omitempty"`
	IsQuiz       bool      `json:"is_quiz,omitempty"`

	// EphemeralKey is a per-batch unique key used by list renderers. It is
	// regenerated when a rejected candidate is restored by undo so stale
	// rows are never reused downstream.
	EphemeralKey string `json:"ephemeral_key"`
}

// Key returns the candidate's stable composite external identity.
func (c CandidateAssignment) Key() string {
	return ExternalKey(c.CourseID, c.AssignmentID)
}

// =============================================================================
// TASK
// =============================================================================

// Task is a locally owned, persisted unit of work (a calendar event).
//
// Tasks are created by the approval workflow or directly by the user, and
// mutated by user edits, drag-reschedule, or the reconciler. A task's
// ExternalID is empty for purely local tasks and unique within one user's
// store otherwise.
type Task struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	DueAt      time.Time  `json:"due_at"`
	CategoryID string     `json:"category_id,omitempty"` // empty = uncategorized
	Type       TaskType   `json:"type"`
	Status     TaskStatus `json:"status"`
	Notes      string     `json:"notes,omitempty"`
	URL        string     `json:"url,omitempty"`
	ExternalID string     `json:"external_id,omitempty"`
	Points     float64    `json:"points,omitempty"`

	// DueDateLocked opts the task's due date out of upstream propagation:
	// when true the reconciler must never overwrite DueAt.
	DueDateLocked bool `json:"due_date_locked,omitempty"`

	// StatusLocked opts the task out of submission-driven auto-completion.
	StatusLocked bool `json:"status_locked,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsLinked reports whether the task tracks an external LMS assignment.
func (t Task) IsLinked() bool {
	return t.ExternalID != ""
}

// =============================================================================
// CATEGORY
// =============================================================================

// Category is a user-defined grouping applied to tasks, typically a course.
// Deleting a category cascades deletion of its tasks.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Color is a hex color from the fixed palette, e.g. "#e8554d".
	Color string `json:"color"`

	// ExternalCourseID links the category to an LMS course. Zero means the
	// category is purely local. If present it is unique within one user's
	// category store.
	ExternalCourseID int64 `json:"external_course_id,omitempty"`

	// SyncEnabled controls whether candidates from the linked course should
	// surface. Meaningful only when ExternalCourseID is set.
	SyncEnabled bool `json:"sync_enabled"`

	SortOrder int `json:"sort_order"`
}

// IsLinked reports whether the category is bound to an LMS course.
func (c Category) IsLinked() bool {
	return c.ExternalCourseID != 0
}

// =============================================================================
// REJECTION RECORD
// =============================================================================

// RejectionRecord suppresses an external identity permanently: once present,
// that identity must never resurface as a candidate.
type RejectionRecord struct {
	ExternalID string    `json:"external_id"`
	RejectedAt time.Time `json:"rejected_at"`
}

// =============================================================================
// MERGE RESOLUTION
// =============================================================================

// Resolution is the user's per-duplicate-pair choice when merging an
// anonymous local dataset into an account-backed one.
type Resolution string

const (
	// ResolutionTheirs keeps the account-backed copy; the local duplicate
	// is dropped. This is the default for unset pairs.
	ResolutionTheirs Resolution = "theirs"

	// ResolutionMine overwrites the account-backed copy's mutable fields
	// with the local values.
	ResolutionMine Resolution = "mine"

	// ResolutionBoth inserts the local copy as a new task with its external
	// identity cleared, so the pair cannot collide on identity later.
	ResolutionBoth Resolution = "both"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionTheirs, ResolutionMine, ResolutionBoth:
		return true
	}
	return false
}

// MergeAudit records one dataset merge: who ran it, which anonymous session
// the local data came from, and how much was carried over.
type MergeAudit struct {
	UserID           string    `json:"user_id"`
	SessionID        string    `json:"session_id"`
	TasksMerged      int       `json:"tasks_merged"`
	CategoriesMerged int       `json:"categories_merged"`
	MergedAt         time.Time `json:"merged_at"`
}

// =============================================================================
// SETTINGS
// =============================================================================

// Credentials holds the opaque LMS API credential pair. Token issuance is
// outside the core; both values arrive as opaque strings.
type Credentials struct {
	BaseURL string `json:"base_url,omitempty"`
	Token   string `json:"token,omitempty"`
}

// Configured reports whether both halves of the credential pair are present.
func (c Credentials) Configured() bool {
	return c.BaseURL != "" && c.Token != ""
}

// Settings is the per-user settings snapshot carried through sync and merge.
type Settings struct {
	Credentials Credentials `json:"credentials"`
}
