// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package category

import (
	"context"
	"testing"

	"github.com/jeranaias/coursedue/internal/collect"
	"github.com/jeranaias/coursedue/internal/model"
	"github.com/jeranaias/coursedue/internal/store"
)

func newBackend(t *testing.T) *store.MemoryBackend {
	t.Helper()
	return store.NewMemoryBackend(store.Principal{UserID: "local"})
}

// =============================================================================
// PALETTE TESTS
// =============================================================================

func TestPaletteColor_Cycles(t *testing.T) {
	if PaletteColor(0) != PaletteColor(8) {
		t.Error("palette should cycle every 8 categories")
	}
	if PaletteColor(0) == PaletteColor(1) {
		t.Error("adjacent categories should get distinct colors")
	}
	if PaletteColor(-1) != PaletteColor(0) {
		t.Error("negative counts should clamp to the first color")
	}
}

// =============================================================================
// RESOLVER TESTS
// =============================================================================

func TestResolver_CreatesCategoryForNewCourse(t *testing.T) {
	backend := newBackend(t)
	r := NewResolver(backend)

	err := r.Resolve(context.Background(), []collect.CourseIdentity{{ID: 101, Name: "Biology"}})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	cats, _ := backend.Categories(context.Background())
	if len(cats) != 1 {
		t.Fatalf("got %d categories, want 1", len(cats))
	}
	c := cats[0]
	if c.Name != "Biology" || c.ExternalCourseID != 101 {
		t.Errorf("created category = %+v", c)
	}
	if !c.SyncEnabled {
		t.Error("new course categories should start sync-enabled")
	}
	if c.Color != PaletteColor(0) {
		t.Errorf("Color = %q, want first palette color", c.Color)
	}
}

func TestResolver_LinksByNameInsteadOfDuplicating(t *testing.T) {
	backend := newBackend(t)
	existing, err := backend.CreateCategory(context.Background(), model.Category{Name: "biology", Color: "#e8554d"})
	if err != nil {
		t.Fatal(err)
	}

	r := NewResolver(backend)
	if err := r.Resolve(context.Background(), []collect.CourseIdentity{{ID: 101, Name: "Biology"}}); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	cats, _ := backend.Categories(context.Background())
	if len(cats) != 1 {
		t.Fatalf("got %d categories, want the existing one linked rather than a duplicate", len(cats))
	}
	if cats[0].ID != existing.ID {
		t.Errorf("linked a different category: %+v", cats[0])
	}
	if cats[0].ExternalCourseID != 101 || !cats[0].SyncEnabled {
		t.Errorf("linking should set external identity and sync: %+v", cats[0])
	}
}

func TestResolver_AlreadyLinkedIsLeftAlone(t *testing.T) {
	backend := newBackend(t)
	_, err := backend.CreateCategory(context.Background(), model.Category{
		Name: "Bio 1800s", Color: "#6cc164", ExternalCourseID: 101, SyncEnabled: false,
	})
	if err != nil {
		t.Fatal(err)
	}

	fired := false
	r := NewResolver(backend).OnChange(func() { fired = true })
	if err := r.Resolve(context.Background(), []collect.CourseIdentity{{ID: 101, Name: "Biology"}}); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	cats, _ := backend.Categories(context.Background())
	if len(cats) != 1 {
		t.Fatalf("got %d categories, want 1", len(cats))
	}
	// The user's rename and sync preference survive.
	if cats[0].Name != "Bio 1800s" || cats[0].SyncEnabled {
		t.Errorf("linked category was modified: %+v", cats[0])
	}
	if fired {
		t.Error("no change should fire no reload")
	}
}

func TestResolver_OnChangeFiresOncePerRun(t *testing.T) {
	backend := newBackend(t)
	fires := 0
	r := NewResolver(backend).OnChange(func() { fires++ })

	courses := []collect.CourseIdentity{
		{ID: 101, Name: "Biology"},
		{ID: 102, Name: "Chemistry"},
		{ID: 103, Name: "Physics"},
	}
	if err := r.Resolve(context.Background(), courses); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if fires != 1 {
		t.Errorf("onChange fired %d times, want once per run", fires)
	}

	cats, _ := backend.Categories(context.Background())
	if len(cats) != 3 {
		t.Fatalf("got %d categories, want 3", len(cats))
	}
	// Colors rotate with category count.
	if cats[1].Color != PaletteColor(1) || cats[2].Color != PaletteColor(2) {
		t.Errorf("palette rotation broken: %q %q", cats[1].Color, cats[2].Color)
	}
}

func TestResolver_OneFailureDoesNotBlockOthers(t *testing.T) {
	backend := newBackend(t)
	backend.FailNext = store.ErrConflict // first create fails

	r := NewResolver(backend)
	courses := []collect.CourseIdentity{
		{ID: 101, Name: "Biology"},
		{ID: 102, Name: "Chemistry"},
	}
	if err := r.Resolve(context.Background(), courses); err != nil {
		t.Fatalf("per-course failures should not surface: %v", err)
	}

	cats, _ := backend.Categories(context.Background())
	if len(cats) != 1 {
		t.Fatalf("got %d categories, want the surviving 1", len(cats))
	}
	if cats[0].ExternalCourseID != 102 {
		t.Errorf("survivor = %+v, want Chemistry", cats[0])
	}
}
