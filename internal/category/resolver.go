// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package category reconciles observed LMS course identities against the
// user's local categories, linking or creating as needed.
package category

import (
	"context"
	"log"
	"strings"

	"github.com/jeranaias/coursedue/internal/collect"
	"github.com/jeranaias/coursedue/internal/model"
	"github.com/jeranaias/coursedue/internal/store"
)

// palette is the fixed color rotation for newly created categories. New
// categories pick the next color by category count, so colors cycle rather
// than cluster.
var palette = []string{
	"#e8554d", // red
	"#f19c4c", // orange
	"#f6c445", // yellow
	"#6cc164", // green
	"#4fb3bf", // teal
	"#5a7de0", // blue
	"#8b63c9", // purple
	"#d9639b", // pink
}

// PaletteColor returns the palette color for the nth created category.
func PaletteColor(n int) string {
	if n < 0 {
		n = 0
	}
	return palette[n%len(palette)]
}

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver links observed courses to categories. It never deletes or renames
// anything; it only sets external identities and creates missing categories.
type Resolver struct {
	backend store.Backend

	// onChange, when set, is invoked once after a run that linked or
	// created at least one category, so the presentation layer can reload
	// its category list.
	onChange func()
}

// NewResolver creates a resolver over the given backend.
func NewResolver(backend store.Backend) *Resolver {
	return &Resolver{backend: backend}
}

// OnChange registers the reload hook.
func (r *Resolver) OnChange(fn func()) *Resolver {
	r.onChange = fn
	return r
}

// Resolve processes every observed course identity:
//
//  1. a category already linked to the course id is left alone;
//  2. otherwise an unlinked category with a case-insensitively equal name is
//     linked rather than duplicated;
//  3. otherwise a new category is created with the next palette color.
//
// Failures on one course are logged and do not block the remaining courses.
func (r *Resolver) Resolve(ctx context.Context, courses []collect.CourseIdentity) error {
	cats, err := r.backend.Categories(ctx)
	if err != nil {
		return err
	}

	changed := false
	for _, course := range courses {
		if linked(cats, course.ID) {
			continue
		}

		if idx := matchByName(cats, course.Name); idx >= 0 {
			err := r.backend.UpdateCategory(ctx, cats[idx].ID, store.CategoryPatch{
				ExternalCourseID: store.Int64Ptr(course.ID),
				SyncEnabled:      store.BoolPtr(true),
			})
			if err != nil {
				log.Printf("category: linking %q to course %d failed: %v", cats[idx].Name, course.ID, err)
				continue
			}
			cats[idx].ExternalCourseID = course.ID
			cats[idx].SyncEnabled = true
			changed = true
			continue
		}

		created, err := r.backend.CreateCategory(ctx, model.Category{
			Name:             course.Name,
			Color:            PaletteColor(len(cats)),
			ExternalCourseID: course.ID,
			SyncEnabled:      true,
			SortOrder:        len(cats),
		})
		if err != nil {
			log.Printf("category: creating %q for course %d failed: %v", course.Name, course.ID, err)
			continue
		}
		cats = append(cats, created)
		changed = true
	}

	if changed && r.onChange != nil {
		r.onChange()
	}
	return nil
}

// linked reports whether any category already carries the course identity.
func linked(cats []model.Category, courseID int64) bool {
	for _, c := range cats {
		if c.ExternalCourseID == courseID {
			return true
		}
	}
	return false
}

// matchByName finds an unlinked category whose name equals name
// case-insensitively, or -1.
func matchByName(cats []model.Category, name string) int {
	for i, c := range cats {
		if c.ExternalCourseID == 0 && strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}
