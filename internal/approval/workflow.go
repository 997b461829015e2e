// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package approval turns candidates into persisted tasks (approve) or
// suppression records (reject), with optimistic local mutation, rollback on
// persistence failure, and a timed undo window for destructive actions.
package approval

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/coursedue/internal/model"
	"github.com/jeranaias/coursedue/internal/store"
)

// DefaultUndoWindow is how long a reject or delete stays reversible before
// its persistence fires.
const DefaultUndoWindow = 7 * time.Second

// PendingCacheKey is the KV key under which the pending-candidate list is
// cached between runs.
const PendingCacheKey = "pending_candidates"

// Persister is the slice of the backend the workflow writes through.
// store.Backend satisfies it.
type Persister interface {
	CreateTask(ctx context.Context, t model.Task) (model.Task, error)
	DeleteTask(ctx context.Context, id string) error
	CreateRejection(ctx context.Context, r model.RejectionRecord) error
}

// TaskForm carries the user's optional overrides when approving a candidate.
// Nil fields fall back to the candidate's values.
type TaskForm struct {
	Title      *string
	DueAt      *time.Time
	CategoryID *string
	Type       *model.TaskType
	Notes      *string
}

// =============================================================================
// SNAPSHOT TRANSACTION
// =============================================================================

// snapshot is the pre-mutation copy of everything an optimistic operation
// may touch. Rollback is a plain value restore, so its correctness does not
// depend on which mutation failed.
type snapshot struct {
	pending     []model.CandidateAssignment
	tasks       []model.Task
	reviewIndex int
}

// =============================================================================
// WORKFLOW
// =============================================================================

// Workflow owns the pending-candidate list and the local task-list mirror.
// All mutations are serialized through one mutex: optimistic updates and
// their rollbacks cannot interleave.
type Workflow struct {
	mu          sync.Mutex
	pending     []model.CandidateAssignment
	tasks       []model.Task
	categories  []model.Category
	reviewIndex int

	backend    Persister
	kv         store.KV
	scheduler  Scheduler
	undoWindow time.Duration
	onError    func(error)

	undoRejects map[string]*undoEntry // keyed by candidate external key
	undoDeletes map[string]*undoEntry // keyed by task id
}

// undoEntry is one open undo window.
type undoEntry struct {
	cancel    CancelFunc
	snap      snapshot
	index     int
	candidate model.CandidateAssignment
	task      model.Task
}

// NewWorkflow creates a workflow writing through backend and caching the
// pending list in kv. scheduler may be nil (TimerScheduler is used).
func NewWorkflow(backend Persister, kv store.KV, scheduler Scheduler) *Workflow {
	if scheduler == nil {
		scheduler = TimerScheduler{}
	}
	return &Workflow{
		backend:     backend,
		kv:          kv,
		scheduler:   scheduler,
		undoWindow:  DefaultUndoWindow,
		undoRejects: make(map[string]*undoEntry),
		undoDeletes: make(map[string]*undoEntry),
	}
}

// WithUndoWindow overrides the undo window duration.
func (w *Workflow) WithUndoWindow(d time.Duration) *Workflow {
	if d > 0 {
		w.undoWindow = d
	}
	return w
}

// OnError registers the callback surfacing asynchronous failures (the
// post-undo-window rejection case). Must be set before scheduling begins.
func (w *Workflow) OnError(fn func(error)) *Workflow {
	w.onError = fn
	return w
}

// =============================================================================
// STATE ACCESS
// =============================================================================

// SetState replaces the pending list and task mirror, e.g. after a sync run,
// and persists the pending cache.
func (w *Workflow) SetState(pending []model.CandidateAssignment, tasks []model.Task) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append([]model.CandidateAssignment(nil), pending...)
	w.tasks = append([]model.Task(nil), tasks...)
	w.clampReviewIndexLocked()
	return w.persistPendingLocked()
}

// SetCategories replaces the category mirror. Approve consults it to default
// a new task's category to the one linked to the candidate's course.
func (w *Workflow) SetCategories(cats []model.Category) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.categories = append([]model.Category(nil), cats...)
}

// Pending returns a copy of the current pending list.
func (w *Workflow) Pending() []model.CandidateAssignment {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.CandidateAssignment(nil), w.pending...)
}

// Tasks returns a copy of the local task mirror.
func (w *Workflow) Tasks() []model.Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.Task(nil), w.tasks...)
}

// ReviewIndex returns the current position in the paged review UI.
func (w *Workflow) ReviewIndex() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reviewIndex
}

// SetReviewIndex moves the review position, clamped to the pending list.
func (w *Workflow) SetReviewIndex(i int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reviewIndex = i
	w.clampReviewIndexLocked()
}

// LoadPending restores the pending list from the KV cache. A missing or
// corrupt cache yields an empty list.
func (w *Workflow) LoadPending() error {
	data, err := w.kv.Get(PendingCacheKey)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}

	var pending []model.CandidateAssignment
	if err := json.Unmarshal(data, &pending); err != nil {
		log.Printf("approval: pending cache is corrupt, discarding: %v", err)
		return w.kv.Remove(PendingCacheKey)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = pending
	w.clampReviewIndexLocked()
	return nil
}

// =============================================================================
// APPROVE
// =============================================================================

// Approve converts the candidate with the given external key into a
// persisted task. The local mutation happens first (placeholder task with a
// temporary identity, candidate removed, pending cache updated); the backend
// write follows, and on success the placeholder is swapped for the
// server-confirmed task. Any persistence failure rolls every local mutation
// back to the pre-approve snapshot.
//
// Unless the form overrides it, the task's category defaults to the category
// linked to the candidate's course.
//
// Callers run Approve off the UI goroutine; the optimistic state is visible
// to concurrent readers for the duration of the backend write.
func (w *Workflow) Approve(ctx context.Context, key string, form TaskForm) (model.Task, error) {
	w.mu.Lock()

	idx := w.findPendingLocked(key)
	if idx < 0 {
		w.clampReviewIndexLocked()
		w.mu.Unlock()
		return model.Task{}, &StaleStateError{Key: key}
	}
	cand := w.pending[idx]

	if form.CategoryID == nil {
		if id := w.courseCategoryLocked(cand.CourseID); id != "" {
			form.CategoryID = &id
		}
	}

	task, err := buildTask(cand, form)
	if err != nil {
		// Validation fails before any mutation.
		w.mu.Unlock()
		return model.Task{}, err
	}

	tempID := "tmp_" + uuid.New().String()
	placeholder := task
	placeholder.ID = tempID

	snap := w.captureLocked()
	w.pending = append(w.pending[:idx], w.pending[idx+1:]...)
	w.clampReviewIndexLocked()
	w.tasks = append(w.tasks, placeholder)
	if err := w.persistPendingLocked(); err != nil {
		w.restoreLocked(snap)
		w.mu.Unlock()
		return model.Task{}, &PersistenceError{Op: "pending cache write", Err: err}
	}
	w.mu.Unlock()

	created, err := w.backend.CreateTask(ctx, task)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.restoreLocked(snap)
		if perr := w.persistPendingLocked(); perr != nil {
			log.Printf("approval: pending cache restore failed: %v", perr)
		}
		return model.Task{}, &PersistenceError{Op: "task create", Err: err}
	}

	// Swap by temporary identity.
	swapped := false
	for i := range w.tasks {
		if w.tasks[i].ID == tempID {
			w.tasks[i] = created
			swapped = true
			break
		}
	}
	if !swapped {
		w.tasks = append(w.tasks, created)
	}
	return created, nil
}

// buildTask assembles the task a candidate becomes, applying form overrides.
func buildTask(cand model.CandidateAssignment, form TaskForm) (model.Task, error) {
	title := cand.Title
	if form.Title != nil {
		title = *form.Title
	}
	if strings.TrimSpace(title) == "" {
		return model.Task{}, &ValidationError{Field: "title"}
	}

	dueAt := cand.DueAt
	if form.DueAt != nil {
		dueAt = *form.DueAt
	}
	if dueAt.IsZero() {
		return model.Task{}, &ValidationError{Field: "due_at"}
	}

	taskType := model.TypeAssignment
	if cand.IsQuiz {
		taskType = model.TypeQuiz
	}
	if form.Type != nil {
		taskType = *form.Type
	}

	t := model.Task{
		Title:      title,
		DueAt:      dueAt,
		Type:       taskType,
		Status:     model.StatusIncomplete,
		URL:        cand.URL,
		ExternalID: cand.Key(),
		Points:     cand.Points,
	}
	if form.CategoryID != nil {
		t.CategoryID = *form.CategoryID
	}
	if form.Notes != nil {
		t.Notes = *form.Notes
	}
	return t, nil
}

// =============================================================================
// REJECT / UNDO
// =============================================================================

// Reject removes the candidate from the pending list immediately and
// schedules the rejection record's persistence after the undo window. Until
// the window closes, UndoReject reverses the removal.
func (w *Workflow) Reject(key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx := w.findPendingLocked(key)
	if idx < 0 {
		w.clampReviewIndexLocked()
		return &StaleStateError{Key: key}
	}

	snap := w.captureLocked()
	entry := &undoEntry{snap: snap, index: idx, candidate: w.pending[idx]}

	w.pending = append(w.pending[:idx], w.pending[idx+1:]...)
	w.clampReviewIndexLocked()
	if err := w.persistPendingLocked(); err != nil {
		w.restoreLocked(snap)
		return &PersistenceError{Op: "pending cache write", Err: err}
	}

	entry.cancel = w.scheduler.ScheduleOnce(w.undoWindow, func() { w.finalizeReject(key) })
	w.undoRejects[key] = entry
	return nil
}

// UndoReject reverses a reject whose window is still open: the scheduled
// persistence is canceled and the candidate returns to its original position
// with a fresh ephemeral key. Returns false if the window already closed.
func (w *Workflow) UndoReject(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.undoRejects[key]
	if !ok {
		return false
	}
	// Check, then clear the timer, then act. If the timer already fired the
	// delayed persistence owns the outcome and undo is a no-op.
	if !entry.cancel() {
		return false
	}
	delete(w.undoRejects, key)

	cand := entry.candidate
	cand.EphemeralKey = uuid.New().String()
	idx := entry.index
	if idx > len(w.pending) {
		idx = len(w.pending)
	}
	w.pending = append(w.pending[:idx], append([]model.CandidateAssignment{cand}, w.pending[idx:]...)...)
	if err := w.persistPendingLocked(); err != nil {
		log.Printf("approval: pending cache write after undo failed: %v", err)
	}
	return true
}

// finalizeReject runs when the undo window closes: it persists the rejection
// record. If that write fails, the optimistic removal is rolled back even
// though the action looked final to the user, and the error is surfaced.
func (w *Workflow) finalizeReject(key string) {
	w.mu.Lock()
	entry, ok := w.undoRejects[key]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.undoRejects, key)
	w.mu.Unlock()

	err := w.backend.CreateRejection(context.Background(), model.RejectionRecord{
		ExternalID: key,
		RejectedAt: time.Now(),
	})
	if err == nil {
		return
	}

	w.mu.Lock()
	w.restoreLocked(entry.snap)
	if perr := w.persistPendingLocked(); perr != nil {
		log.Printf("approval: pending cache restore failed: %v", perr)
	}
	w.mu.Unlock()
	w.surface(&PersistenceError{Op: "rejection record write", Err: err})
}

// =============================================================================
// DELETE / UNDO
// =============================================================================

// Delete removes a task from the local mirror immediately and schedules the
// backend delete after the undo window, following the same optimistic
// discipline as Reject.
func (w *Workflow) Delete(taskID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx := -1
	for i := range w.tasks {
		if w.tasks[i].ID == taskID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &StaleStateError{Key: taskID}
	}

	snap := w.captureLocked()
	entry := &undoEntry{snap: snap, index: idx, task: w.tasks[idx]}
	w.tasks = append(w.tasks[:idx], w.tasks[idx+1:]...)

	entry.cancel = w.scheduler.ScheduleOnce(w.undoWindow, func() { w.finalizeDelete(taskID) })
	w.undoDeletes[taskID] = entry
	return nil
}

// UndoDelete reverses a delete whose window is still open.
func (w *Workflow) UndoDelete(taskID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.undoDeletes[taskID]
	if !ok {
		return false
	}
	if !entry.cancel() {
		return false
	}
	delete(w.undoDeletes, taskID)

	idx := entry.index
	if idx > len(w.tasks) {
		idx = len(w.tasks)
	}
	w.tasks = append(w.tasks[:idx], append([]model.Task{entry.task}, w.tasks[idx:]...)...)
	return true
}

// finalizeDelete persists the delete once the window closes, rolling the
// task back into the mirror on failure.
func (w *Workflow) finalizeDelete(taskID string) {
	w.mu.Lock()
	entry, ok := w.undoDeletes[taskID]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.undoDeletes, taskID)
	w.mu.Unlock()

	err := w.backend.DeleteTask(context.Background(), taskID)
	if err == nil {
		return
	}

	w.mu.Lock()
	w.restoreLocked(entry.snap)
	w.mu.Unlock()
	w.surface(&PersistenceError{Op: "task delete", Err: err})
}

// =============================================================================
// INTERNALS
// =============================================================================

// captureLocked copies the mutable state. Must hold mu.
func (w *Workflow) captureLocked() snapshot {
	return snapshot{
		pending:     append([]model.CandidateAssignment(nil), w.pending...),
		tasks:       append([]model.Task(nil), w.tasks...),
		reviewIndex: w.reviewIndex,
	}
}

// restoreLocked rolls state back to a snapshot. Must hold mu.
func (w *Workflow) restoreLocked(s snapshot) {
	w.pending = s.pending
	w.tasks = s.tasks
	w.reviewIndex = s.reviewIndex
}

// courseCategoryLocked returns the id of the category linked to the given
// course, or "" when no category is linked. Must hold mu.
func (w *Workflow) courseCategoryLocked(courseID int64) string {
	for i := range w.categories {
		if w.categories[i].ExternalCourseID == courseID {
			return w.categories[i].ID
		}
	}
	return ""
}

// findPendingLocked returns the index of the candidate with the given
// external key, or -1. Must hold mu.
func (w *Workflow) findPendingLocked(key string) int {
	for i := range w.pending {
		if w.pending[i].Key() == key {
			return i
		}
	}
	return -1
}

// clampReviewIndexLocked keeps the review position inside the pending list.
// Must hold mu.
func (w *Workflow) clampReviewIndexLocked() {
	if w.reviewIndex >= len(w.pending) {
		w.reviewIndex = len(w.pending) - 1
	}
	if w.reviewIndex < 0 {
		w.reviewIndex = 0
	}
}

// persistPendingLocked writes the pending list to the KV cache. Must hold mu.
func (w *Workflow) persistPendingLocked() error {
	if w.kv == nil {
		return nil
	}
	data, err := json.Marshal(w.pending)
	if err != nil {
		return err
	}
	return w.kv.Set(PendingCacheKey, data)
}

// surface reports an asynchronous failure to the registered callback.
func (w *Workflow) surface(err error) {
	if w.onError != nil {
		w.onError(err)
		return
	}
	log.Printf("approval: %v", err)
}
