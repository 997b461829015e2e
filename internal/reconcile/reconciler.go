// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reconcile aligns local task state with freshly fetched LMS data.
// Three independent passes run after each fetch: suppression of
// already-handled candidates, due-date propagation, and submission-driven
// auto-completion.
package reconcile

import (
	"context"
	"log"

	"github.com/jeranaias/coursedue/internal/lms"
	"github.com/jeranaias/coursedue/internal/model"
	"github.com/jeranaias/coursedue/internal/store"
)

// DefaultSubmissionConcurrency bounds the auto-completion fan-out.
const DefaultSubmissionConcurrency = 4

// SubmissionChecker is the slice of the LMS client the auto-completion pass
// consumes.
type SubmissionChecker interface {
	HasSubmission(ctx context.Context, courseID, assignmentID int64) (bool, error)
}

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler diffs fetched candidates against local tasks. Date and status
// updates go through the backend like any user edit; they are not
// user-undoable.
type Reconciler struct {
	backend     store.Backend
	checker     SubmissionChecker
	cache       *SubmissionCache
	concurrency int
}

// New creates a reconciler. cache may be nil, in which case every
// auto-completion check hits the API. concurrency 0 means
// DefaultSubmissionConcurrency.
func New(backend store.Backend, checker SubmissionChecker, cache *SubmissionCache, concurrency int) *Reconciler {
	if concurrency <= 0 {
		concurrency = DefaultSubmissionConcurrency
	}
	return &Reconciler{
		backend:     backend,
		checker:     checker,
		cache:       cache,
		concurrency: concurrency,
	}
}

// Outcome summarizes one reconciliation run.
type Outcome struct {
	// Pending is the suppressed-filtered candidate list to surface.
	Pending []model.CandidateAssignment

	// DatesUpdated counts tasks whose due date was moved to match upstream.
	DatesUpdated int

	// AutoCompleted counts tasks transitioned to complete.
	AutoCompleted int
}

// Run performs all three passes over the full (unsuppressed) candidate set.
// Suppressed candidates and candidates from sync-disabled courses still
// participate in date propagation and auto-completion; only the returned
// Pending list is filtered.
func (r *Reconciler) Run(ctx context.Context, candidates []model.CandidateAssignment) (*Outcome, error) {
	tasks, err := r.backend.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	rejections, err := r.backend.Rejections(ctx)
	if err != nil {
		return nil, err
	}
	categories, err := r.backend.Categories(ctx)
	if err != nil {
		return nil, err
	}

	out := &Outcome{}
	out.DatesUpdated = r.propagateDueDates(ctx, candidates, tasks)
	out.AutoCompleted = r.autoComplete(ctx, candidates, tasks)
	out.Pending = FilterSyncDisabled(Suppress(candidates, tasks, rejections), categories)
	return out, nil
}

// =============================================================================
// PASS 1: SUPPRESSION
// =============================================================================

// Suppress hides candidates already handled locally: those whose external
// identity matches an existing task or a rejection record. Pure function;
// running it twice over the same inputs yields the same list.
func Suppress(candidates []model.CandidateAssignment, tasks []model.Task, rejections []model.RejectionRecord) []model.CandidateAssignment {
	handled := make(map[string]bool, len(tasks)+len(rejections))
	for _, t := range tasks {
		if t.ExternalID != "" {
			handled[t.ExternalID] = true
		}
	}
	for _, rec := range rejections {
		handled[rec.ExternalID] = true
	}

	out := make([]model.CandidateAssignment, 0, len(candidates))
	for _, c := range candidates {
		if !handled[c.Key()] {
			out = append(out, c)
		}
	}
	return out
}

// FilterSyncDisabled drops candidates from courses the user switched off:
// those whose course is linked to a category with sync disabled. Courses
// without a linked category surface normally.
func FilterSyncDisabled(candidates []model.CandidateAssignment, categories []model.Category) []model.CandidateAssignment {
	disabled := make(map[int64]bool)
	for _, c := range categories {
		if c.IsLinked() && !c.SyncEnabled {
			disabled[c.ExternalCourseID] = true
		}
	}
	if len(disabled) == 0 {
		return candidates
	}

	out := make([]model.CandidateAssignment, 0, len(candidates))
	for _, c := range candidates {
		if !disabled[c.CourseID] {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// PASS 2: DUE-DATE PROPAGATION
// =============================================================================

// propagateDueDates updates the due date of every linked, unpinned task whose
// upstream due date drifted. Last write from upstream wins unless the user
// pinned the date. Per-task failures are logged and skipped.
func (r *Reconciler) propagateDueDates(ctx context.Context, candidates []model.CandidateAssignment, tasks []model.Task) int {
	byKey := make(map[string]model.CandidateAssignment, len(candidates))
	for _, c := range candidates {
		byKey[c.Key()] = c
	}

	updated := 0
	for _, t := range tasks {
		if t.ExternalID == "" || t.DueDateLocked {
			continue
		}
		c, ok := byKey[t.ExternalID]
		if !ok || c.DueAt.Equal(t.DueAt) {
			continue
		}
		err := r.backend.UpdateTask(ctx, t.ID, store.TaskPatch{DueAt: store.TimePtr(c.DueAt)})
		if err != nil {
			log.Printf("reconcile: due-date update for task %s (%s) failed: %v", t.ID, t.ExternalID, err)
			continue
		}
		updated++
	}
	return updated
}

// =============================================================================
// PASS 3: AUTO-COMPLETION
// =============================================================================

// autoComplete transitions quiz-backed tasks to complete once the LMS
// reports a submission. Only forward, only when the user has not locked the
// status. Lookups run under their own bounded fan-out and go through the
// injected cache.
func (r *Reconciler) autoComplete(ctx context.Context, candidates []model.CandidateAssignment, tasks []model.Task) int {
	if r.checker == nil {
		return 0
	}

	quizByKey := make(map[string]model.CandidateAssignment, len(candidates))
	for _, c := range candidates {
		if c.IsQuiz {
			quizByKey[c.Key()] = c
		}
	}

	var eligible []model.Task
	for _, t := range tasks {
		if t.Status.IsComplete() || t.StatusLocked || t.ExternalID == "" {
			continue
		}
		if _, ok := quizByKey[t.ExternalID]; ok {
			eligible = append(eligible, t)
		}
	}
	if len(eligible) == 0 {
		return 0
	}

	submitted, errs := lms.BoundedMap(ctx, eligible, r.concurrency,
		func(ctx context.Context, t model.Task) (bool, error) {
			return r.checkSubmission(ctx, t.ExternalID)
		})

	completed := 0
	for i, t := range eligible {
		if errs[i] != nil {
			log.Printf("reconcile: submission check for task %s (%s) failed: %v", t.ID, t.ExternalID, errs[i])
			continue
		}
		if !submitted[i] {
			continue
		}
		err := r.backend.UpdateTask(ctx, t.ID, store.TaskPatch{Status: store.StatusPtr(model.StatusComplete)})
		if err != nil {
			log.Printf("reconcile: auto-complete for task %s failed: %v", t.ID, err)
			continue
		}
		completed++
	}
	return completed
}

// checkSubmission consults the cache before the API.
func (r *Reconciler) checkSubmission(ctx context.Context, externalID string) (bool, error) {
	if r.cache != nil {
		if submitted, ok := r.cache.Get(externalID); ok {
			return submitted, nil
		}
	}

	courseID, assignmentID, ok := model.SplitExternalKey(externalID)
	if !ok {
		return false, nil
	}
	submitted, err := r.checker.HasSubmission(ctx, courseID, assignmentID)
	if err != nil {
		return false, err
	}
	if r.cache != nil {
		r.cache.Set(externalID, submitted)
	}
	return submitted, nil
}
