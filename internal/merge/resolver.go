// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package merge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeranaias/coursedue/internal/model"
	"github.com/jeranaias/coursedue/internal/store"
)

// ConflictError is an unexpected write collision during merge (e.g. a task
// insert hitting an external identity that appeared remotely mid-merge).
type ConflictError struct {
	Err error
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflict: %v", e.Err)
}

// Unwrap returns the underlying store error.
func (e *ConflictError) Unwrap() error { return e.Err }

// =============================================================================
// INPUT / OUTPUT
// =============================================================================

// LocalSnapshot is the full anonymous dataset handed to the merge on account
// linkage.
type LocalSnapshot struct {
	Tasks      []model.Task
	Categories []model.Category
	Settings   model.Settings
	SessionID  string
}

// Summary reports what one merge run carried over.
type Summary struct {
	CategoriesCreated int
	CategoriesLinked  int
	TasksCreated      int
	TasksOverwritten  int
	TasksSkipped      int
	CredentialsCopied bool
}

// merged returns the audit counts.
func (s *Summary) mergedTasks() int      { return s.TasksCreated + s.TasksOverwritten }
func (s *Summary) mergedCategories() int { return s.CategoriesCreated + s.CategoriesLinked }

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver merges a local snapshot into the principal's remote store. The
// operation is not atomic across steps, but every per-item write is
// independent and safe to retry: detection re-runs against current remote
// state, so a re-run after partial failure does not duplicate inserted
// items.
type Resolver struct {
	backend   store.Backend
	principal store.Principal
}

// NewResolver creates a resolver writing into the backend opened for p.
func NewResolver(backend store.Backend, p store.Principal) *Resolver {
	return &Resolver{backend: backend, principal: p}
}

// Merge applies the snapshot. resolutions maps local task IDs to the user's
// per-duplicate choice; unset pairs default to keep-theirs (the
// account-backed copy wins). Errors are surfaced whole — the caller must not
// clear local-only data unless Merge returns nil.
func (r *Resolver) Merge(ctx context.Context, snap LocalSnapshot, resolutions map[string]model.Resolution) (*Summary, error) {
	sum := &Summary{}

	remap, err := r.mergeCategories(ctx, snap.Categories, sum)
	if err != nil {
		return nil, err
	}
	if err := r.mergeTasks(ctx, snap.Tasks, resolutions, remap, sum); err != nil {
		return nil, err
	}
	if err := r.mergeCredentials(ctx, snap.Settings, sum); err != nil {
		return nil, err
	}

	audit := model.MergeAudit{
		UserID:           r.principal.UserID,
		SessionID:        snap.SessionID,
		TasksMerged:      sum.mergedTasks(),
		CategoriesMerged: sum.mergedCategories(),
		MergedAt:         time.Now(),
	}
	if err := r.backend.CreateMergeAudit(ctx, audit); err != nil {
		return nil, fmt.Errorf("failed to write merge audit: %w", err)
	}
	return sum, nil
}

// =============================================================================
// STEP 1: CATEGORIES
// =============================================================================

// mergeCategories finds or creates a remote category for every local one and
// returns the local-to-remote id remap table. Matching is by external course
// id only: name collisions among categories are common and not a reliable
// duplicate signal at this stage.
func (r *Resolver) mergeCategories(ctx context.Context, local []model.Category, sum *Summary) (map[string]string, error) {
	remote, err := r.backend.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote categories: %w", err)
	}

	byCourse := make(map[int64]model.Category, len(remote))
	for _, c := range remote {
		if c.ExternalCourseID != 0 {
			byCourse[c.ExternalCourseID] = c
		}
	}

	remap := make(map[string]string, len(local))
	for _, lc := range local {
		if lc.ExternalCourseID != 0 {
			if rc, ok := byCourse[lc.ExternalCourseID]; ok {
				remap[lc.ID] = rc.ID
				sum.CategoriesLinked++
				continue
			}
		}

		created, err := r.backend.CreateCategory(ctx, model.Category{
			Name:             lc.Name,
			Color:            lc.Color,
			ExternalCourseID: lc.ExternalCourseID,
			SyncEnabled:      lc.SyncEnabled,
			SortOrder:        lc.SortOrder,
		})
		if err != nil {
			return nil, wrapWriteError("category create", err)
		}
		remap[lc.ID] = created.ID
		if lc.ExternalCourseID != 0 {
			byCourse[lc.ExternalCourseID] = created
		}
		sum.CategoriesCreated++
	}
	return remap, nil
}

// =============================================================================
// STEP 2: TASKS
// =============================================================================

// mergeTasks walks the local tasks, re-running duplicate detection against
// the current remote set, and applies the chosen resolution per duplicate.
func (r *Resolver) mergeTasks(ctx context.Context, local []model.Task, resolutions map[string]model.Resolution, remap map[string]string, sum *Summary) error {
	remote, err := r.backend.Tasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list remote tasks: %w", err)
	}
	consumed := make(map[string]bool, len(remote))

	for _, lt := range local {
		match, ok := matchTask(lt, remote, consumed)
		if !ok {
			// Unique to local: insert as new, remapping the category
			// reference into the remote store's id space.
			insert := lt
			insert.ID = ""
			insert.CategoryID = remap[lt.CategoryID]
			created, err := r.backend.CreateTask(ctx, insert)
			if err != nil {
				return wrapWriteError("task create", err)
			}
			remote = append(remote, created)
			sum.TasksCreated++
			continue
		}

		consumed[match.ID] = true
		resolution := resolutions[lt.ID]
		if !resolution.Valid() {
			resolution = model.ResolutionTheirs
		}

		switch resolution {
		case model.ResolutionTheirs:
			sum.TasksSkipped++

		case model.ResolutionMine:
			err := r.backend.UpdateTask(ctx, match.ID, store.TaskPatch{
				Title:         store.StrPtr(lt.Title),
				DueAt:         store.TimePtr(lt.DueAt),
				CategoryID:    store.StrPtr(remap[lt.CategoryID]),
				Type:          &lt.Type,
				Status:        store.StatusPtr(lt.Status),
				Notes:         store.StrPtr(lt.Notes),
				URL:           store.StrPtr(lt.URL),
				Points:        &lt.Points,
				DueDateLocked: store.BoolPtr(lt.DueDateLocked),
				StatusLocked:  store.BoolPtr(lt.StatusLocked),
			})
			if err != nil {
				return wrapWriteError("task overwrite", err)
			}
			sum.TasksOverwritten++

		case model.ResolutionBoth:
			// The duplicate keeps living remotely; the local copy comes in
			// as a sibling with its external identity cleared so the two
			// can never collide on identity.
			insert := lt
			insert.ID = ""
			insert.ExternalID = ""
			insert.CategoryID = remap[lt.CategoryID]
			created, err := r.backend.CreateTask(ctx, insert)
			if err != nil {
				return wrapWriteError("task duplicate insert", err)
			}
			remote = append(remote, created)
			sum.TasksCreated++
		}
	}
	return nil
}

// matchTask finds the unconsumed remote duplicate of lt, external identity
// first, then exact title + due-date string.
func matchTask(lt model.Task, remote []model.Task, consumed map[string]bool) (model.Task, bool) {
	if lt.ExternalID != "" {
		for _, rt := range remote {
			if !consumed[rt.ID] && rt.ExternalID == lt.ExternalID {
				return rt, true
			}
		}
	}
	for _, rt := range remote {
		if !consumed[rt.ID] && rt.Title == lt.Title && dueKey(rt.DueAt) == dueKey(lt.DueAt) {
			return rt, true
		}
	}
	return model.Task{}, false
}

// =============================================================================
// STEP 3: CREDENTIALS
// =============================================================================

// mergeCredentials copies the local LMS credential pair to the remote
// settings if and only if the remote has none; existing remote credentials
// are never overwritten.
func (r *Resolver) mergeCredentials(ctx context.Context, local model.Settings, sum *Summary) error {
	if !local.Credentials.Configured() {
		return nil
	}
	remote, err := r.backend.Settings(ctx)
	if err != nil {
		return fmt.Errorf("failed to read remote settings: %w", err)
	}
	if remote.Credentials.Configured() {
		return nil
	}

	remote.Credentials = local.Credentials
	if err := r.backend.UpdateSettings(ctx, remote); err != nil {
		return wrapWriteError("settings update", err)
	}
	sum.CredentialsCopied = true
	return nil
}

// wrapWriteError maps store conflicts to ConflictError and wraps the rest.
func wrapWriteError(op string, err error) error {
	if errors.Is(err, store.ErrConflict) {
		return &ConflictError{Err: fmt.Errorf("%s: %w", op, err)}
	}
	return fmt.Errorf("%s failed: %w", op, err)
}
