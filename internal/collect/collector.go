// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package collect pulls assignment data out of the LMS: all active course
// enrollments, then every dated assignment per course, under bounded
// concurrency with per-course failure degradation.
package collect

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/jeranaias/coursedue/internal/lms"
	"github.com/jeranaias/coursedue/internal/model"
)

// ErrCredentials indicates the top-level enrollment fetch failed in an
// auth-shaped way. The caller should surface a credentials problem and skip
// reconciliation for this run.
var ErrCredentials = errors.New("credentials rejected by LMS")

// ErrSuperseded is returned when a collection run was canceled because a
// newer run was requested for the same session.
var ErrSuperseded = errors.New("collection superseded by a newer run")

// =============================================================================
// TYPES
// =============================================================================

// API is the slice of the LMS client the collector consumes.
type API interface {
	ActiveCourses(ctx context.Context) ([]lms.Course, error)
	CourseAssignments(ctx context.Context, courseID int64) ([]lms.Assignment, error)
}

// CourseIdentity is one course observed during collection, deduplicated by
// course id.
type CourseIdentity struct {
	ID   int64
	Name string
}

// Result is the outcome of one collection run.
type Result struct {
	// Candidates are the normalized dated assignments, in course order.
	Candidates []model.CandidateAssignment

	// Courses are the deduplicated course identities seen.
	Courses []CourseIdentity

	// FailedCourses counts courses whose assignment fetch degraded to an
	// empty list.
	FailedCourses int

	// Undated counts assignments dropped for lacking a due date.
	Undated int
}

// Collector orchestrates paginated fetches into candidate records. At most
// one run is active per collector; a newly requested run cancels the
// in-flight one rather than queuing behind it.
type Collector struct {
	api         API
	concurrency int

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    int
}

// New creates a collector over the given API slice. concurrency bounds the
// per-course fan-out; 0 means lms.DefaultConcurrency.
func New(api API, concurrency int) *Collector {
	if concurrency <= 0 {
		concurrency = lms.DefaultConcurrency
	}
	return &Collector{api: api, concurrency: concurrency}
}

// =============================================================================
// COLLECTION
// =============================================================================

// Collect fetches all active enrollments and fans out one assignment-list
// fetch per course. A single course failing degrades to an empty list for
// that course; only enrollment-level failures abort the run. Auth-shaped
// enrollment failures are wrapped in ErrCredentials.
func (c *Collector) Collect(ctx context.Context) (*Result, error) {
	ctx, gen := c.begin(ctx)
	defer c.end(gen)

	courses, err := c.api.ActiveCourses(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) && c.superseded(gen) {
			return nil, ErrSuperseded
		}
		if lms.IsAuthError(err) {
			return nil, fmt.Errorf("%w: %v", ErrCredentials, err)
		}
		return nil, fmt.Errorf("failed to fetch enrollments: %w", err)
	}

	lists, errs := lms.BoundedMap(ctx, courses, c.concurrency,
		func(ctx context.Context, course lms.Course) ([]lms.Assignment, error) {
			return c.api.CourseAssignments(ctx, course.ID)
		})

	result := &Result{}
	seen := make(map[int64]bool)

	for i, course := range courses {
		if !seen[course.ID] {
			seen[course.ID] = true
			result.Courses = append(result.Courses, CourseIdentity{ID: course.ID, Name: course.Name})
		}

		if errs[i] != nil {
			if errors.Is(errs[i], context.Canceled) && c.superseded(gen) {
				return nil, ErrSuperseded
			}
			// Partial-failure tolerance: one broken course must not sink
			// the whole collection.
			log.Printf("collect: assignments for course %d (%s) failed, skipping: %v",
				course.ID, course.Name, errs[i])
			result.FailedCourses++
			continue
		}

		for _, a := range lists[i] {
			if a.DueAt == nil {
				result.Undated++
				continue
			}
			result.Candidates = append(result.Candidates, model.CandidateAssignment{
				CourseID:     course.ID,
				AssignmentID: a.ID,
				Title:        a.Name,
				DueAt:        *a.DueAt,
				CourseName:   course.Name,
				URL:          a.HTMLURL,
				Description:  a.Description,
				Points:       a.PointsPossible,
				IsQuiz:       a.IsQuiz(),
				EphemeralKey: uuid.New().String(),
			})
		}
	}

	if err := ctx.Err(); err != nil {
		if c.superseded(gen) {
			return nil, ErrSuperseded
		}
		return nil, err
	}
	return result, nil
}

// =============================================================================
// SINGLE-FLIGHT GUARD
// =============================================================================

// begin cancels any in-flight run and registers a new one. Returns the run's
// context and its generation number.
func (c *Collector) begin(ctx context.Context) (context.Context, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.gen++
	return ctx, c.gen
}

// end releases the guard if the finishing run is still the current one.
func (c *Collector) end(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// superseded reports whether a newer run has replaced gen.
func (c *Collector) superseded(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen != gen
}
