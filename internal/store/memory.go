// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/coursedue/internal/model"
)

// =============================================================================
// IN-MEMORY KV
// =============================================================================

// MemoryKV is an in-memory KV store. It backs the anonymous session before
// any database exists and is the KV of choice in tests.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV creates an empty in-memory KV store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// Get returns the value for key, or (nil, nil) if the key is absent.
func (m *MemoryKV) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores value under key.
func (m *MemoryKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

// Remove deletes key.
func (m *MemoryKV) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// =============================================================================
// IN-MEMORY BACKEND
// =============================================================================

// MemoryBackend is an in-memory Backend implementation. It holds the
// anonymous, local-only dataset before account linkage and doubles as the
// test substitute for the remote relational store. All mutations go through
// one mutex, matching the single-writer model the engine assumes.
type MemoryBackend struct {
	mu         sync.Mutex
	principal  Principal
	tasks      []model.Task
	categories []model.Category
	rejections []model.RejectionRecord
	settings   model.Settings
	audits     []model.MergeAudit
	nextID     int

	// FailNext, when set, makes the next mutating call return this error.
	// Tests use it to inject persistence failures.
	FailNext error
}

// MemoryOpener hands out MemoryBackends keyed by user.
type MemoryOpener struct {
	mu       sync.Mutex
	backends map[string]*MemoryBackend
}

// NewMemoryOpener creates an empty opener.
func NewMemoryOpener() *MemoryOpener {
	return &MemoryOpener{backends: make(map[string]*MemoryBackend)}
}

// ForUser returns the backend scoped to p, creating it on first use.
func (o *MemoryOpener) ForUser(p Principal) Backend {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.backends[p.UserID]
	if !ok {
		b = NewMemoryBackend(p)
		o.backends[p.UserID] = b
	}
	return b
}

// NewMemoryBackend creates an empty backend scoped to p.
func NewMemoryBackend(p Principal) *MemoryBackend {
	return &MemoryBackend{principal: p}
}

// takeFailure consumes an injected failure, if any. Must hold mu.
func (b *MemoryBackend) takeFailure() error {
	err := b.FailNext
	b.FailNext = nil
	return err
}

// genID allocates a store-local identity. Must hold mu.
func (b *MemoryBackend) genID(prefix string) string {
	b.nextID++
	return fmt.Sprintf("%s_%d", prefix, b.nextID)
}

// =============================================================================
// TASKS
// =============================================================================

// Tasks returns a copy of all tasks, ordered by due date.
func (b *MemoryBackend) Tasks(ctx context.Context) ([]model.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Task, len(b.tasks))
	copy(out, b.tasks)
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

// CreateTask inserts t, assigning an identity if t.ID is empty. A non-empty
// external identity must be unique within the store; a collision returns
// ErrConflict.
func (b *MemoryBackend) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return model.Task{}, err
	}

	if t.ExternalID != "" {
		for _, existing := range b.tasks {
			if existing.ExternalID == t.ExternalID {
				return model.Task{}, fmt.Errorf("external id %q: %w", t.ExternalID, ErrConflict)
			}
		}
	}

	if t.ID == "" {
		t.ID = b.genID("task")
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	b.tasks = append(b.tasks, t)
	return t, nil
}

// UpdateTask applies a partial update to the task with the given id.
func (b *MemoryBackend) UpdateTask(ctx context.Context, id string, patch TaskPatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return err
	}

	for i := range b.tasks {
		if b.tasks[i].ID != id {
			continue
		}
		t := &b.tasks[i]
		if patch.Title != nil {
			t.Title = *patch.Title
		}
		if patch.DueAt != nil {
			t.DueAt = *patch.DueAt
		}
		if patch.CategoryID != nil {
			t.CategoryID = *patch.CategoryID
		}
		if patch.Type != nil {
			t.Type = *patch.Type
		}
		if patch.Status != nil {
			t.Status = *patch.Status
		}
		if patch.Notes != nil {
			t.Notes = *patch.Notes
		}
		if patch.URL != nil {
			t.URL = *patch.URL
		}
		if patch.ExternalID != nil {
			t.ExternalID = *patch.ExternalID
		}
		if patch.Points != nil {
			t.Points = *patch.Points
		}
		if patch.DueDateLocked != nil {
			t.DueDateLocked = *patch.DueDateLocked
		}
		if patch.StatusLocked != nil {
			t.StatusLocked = *patch.StatusLocked
		}
		t.UpdatedAt = time.Now()
		return nil
	}
	return fmt.Errorf("task %q: %w", id, ErrNotFound)
}

// DeleteTask removes the task with the given id.
func (b *MemoryBackend) DeleteTask(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return err
	}

	for i := range b.tasks {
		if b.tasks[i].ID == id {
			b.tasks = append(b.tasks[:i], b.tasks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("task %q: %w", id, ErrNotFound)
}

// =============================================================================
// CATEGORIES
// =============================================================================

// Categories returns a copy of all categories in sort order.
func (b *MemoryBackend) Categories(ctx context.Context) ([]model.Category, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Category, len(b.categories))
	copy(out, b.categories)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

// CreateCategory inserts c. A non-zero external course identity must be
// unique within the store.
func (b *MemoryBackend) CreateCategory(ctx context.Context, c model.Category) (model.Category, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return model.Category{}, err
	}

	if c.ExternalCourseID != 0 {
		for _, existing := range b.categories {
			if existing.ExternalCourseID == c.ExternalCourseID {
				return model.Category{}, fmt.Errorf("external course %d: %w", c.ExternalCourseID, ErrConflict)
			}
		}
	}

	if c.ID == "" {
		c.ID = b.genID("cat")
	}
	b.categories = append(b.categories, c)
	return c, nil
}

// UpdateCategory applies a partial update to the category with the given id.
func (b *MemoryBackend) UpdateCategory(ctx context.Context, id string, patch CategoryPatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return err
	}

	for i := range b.categories {
		if b.categories[i].ID != id {
			continue
		}
		c := &b.categories[i]
		if patch.Name != nil {
			c.Name = *patch.Name
		}
		if patch.Color != nil {
			c.Color = *patch.Color
		}
		if patch.ExternalCourseID != nil {
			c.ExternalCourseID = *patch.ExternalCourseID
		}
		if patch.SyncEnabled != nil {
			c.SyncEnabled = *patch.SyncEnabled
		}
		if patch.SortOrder != nil {
			c.SortOrder = *patch.SortOrder
		}
		return nil
	}
	return fmt.Errorf("category %q: %w", id, ErrNotFound)
}

// =============================================================================
// REJECTIONS
// =============================================================================

// Rejections returns a copy of all rejection records.
func (b *MemoryBackend) Rejections(ctx context.Context) ([]model.RejectionRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.RejectionRecord, len(b.rejections))
	copy(out, b.rejections)
	return out, nil
}

// CreateRejection records a rejected external identity. Re-recording an
// identity already present is a no-op so the call is safe to retry.
func (b *MemoryBackend) CreateRejection(ctx context.Context, r model.RejectionRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return err
	}

	for _, existing := range b.rejections {
		if existing.ExternalID == r.ExternalID {
			return nil
		}
	}
	if r.RejectedAt.IsZero() {
		r.RejectedAt = time.Now()
	}
	b.rejections = append(b.rejections, r)
	return nil
}

// =============================================================================
// SETTINGS
// =============================================================================

// Settings returns the settings snapshot.
func (b *MemoryBackend) Settings(ctx context.Context) (model.Settings, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings, nil
}

// UpdateSettings replaces the settings snapshot.
func (b *MemoryBackend) UpdateSettings(ctx context.Context, s model.Settings) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return err
	}
	b.settings = s
	return nil
}

// =============================================================================
// MERGE AUDIT
// =============================================================================

// CreateMergeAudit appends a merge audit record.
func (b *MemoryBackend) CreateMergeAudit(ctx context.Context, a model.MergeAudit) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return err
	}
	if a.MergedAt.IsZero() {
		a.MergedAt = time.Now()
	}
	b.audits = append(b.audits, a)
	return nil
}

// MergeAudits returns a copy of all merge audit records.
func (b *MemoryBackend) MergeAudits() []model.MergeAudit {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.MergeAudit(nil), b.audits...)
}
