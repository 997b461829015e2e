// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package merge consolidates two independently-evolved datasets — the
// anonymous local one and the account-backed one — into a single store, via
// duplicate detection and user-chosen per-pair resolutions.
package merge

import (
	"time"

	"github.com/jeranaias/coursedue/internal/model"
)

// Rule names the matching rule that paired two items, in priority order.
type Rule string

const (
	// RuleExternalID pairs items whose external identities are equal.
	RuleExternalID Rule = "external_id"

	// RuleTitleDue pairs tasks with exactly equal title and due-date string.
	RuleTitleDue Rule = "title_due"

	// RuleName pairs categories with exactly equal names.
	RuleName Rule = "name"
)

// TaskPair is one detected task duplicate.
type TaskPair struct {
	Local  model.Task
	Remote model.Task
	Rule   Rule
}

// CategoryPair is one detected category duplicate.
type CategoryPair struct {
	Local  model.Category
	Remote model.Category
	Rule   Rule
}

// dueKey is the exact due-date string used by RuleTitleDue. Two tasks match
// only if their formatted strings are byte-equal.
func dueKey(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// =============================================================================
// TASK DETECTION
// =============================================================================

// DetectTasks pairs local tasks against remote ones. Matching is
// priority-ordered: the external-identity pass runs over every local task
// before any title+due matching, and each remote task is consumed by at most
// one pair. Local tasks left unpaired come back as uniqueLocal, in input
// order.
func DetectTasks(local, remote []model.Task) (pairs []TaskPair, uniqueLocal []model.Task) {
	consumed := make(map[string]bool, len(remote))
	matched := make(map[int]bool, len(local))

	// Pass 1: external identity equality.
	byExternal := make(map[string]int, len(remote))
	for i, r := range remote {
		if r.ExternalID != "" {
			byExternal[r.ExternalID] = i
		}
	}
	for i, l := range local {
		if l.ExternalID == "" {
			continue
		}
		ri, ok := byExternal[l.ExternalID]
		if !ok || consumed[remote[ri].ID] {
			continue
		}
		consumed[remote[ri].ID] = true
		matched[i] = true
		pairs = append(pairs, TaskPair{Local: l, Remote: remote[ri], Rule: RuleExternalID})
	}

	// Pass 2: exact title + due-date string equality, first match wins.
	for i, l := range local {
		if matched[i] {
			continue
		}
		for _, r := range remote {
			if consumed[r.ID] {
				continue
			}
			if r.Title == l.Title && dueKey(r.DueAt) == dueKey(l.DueAt) {
				consumed[r.ID] = true
				matched[i] = true
				pairs = append(pairs, TaskPair{Local: l, Remote: r, Rule: RuleTitleDue})
				break
			}
		}
	}

	for i, l := range local {
		if !matched[i] {
			uniqueLocal = append(uniqueLocal, l)
		}
	}
	return pairs, uniqueLocal
}

// =============================================================================
// CATEGORY DETECTION
// =============================================================================

// DetectCategories pairs local categories against remote ones: external
// course identity first, then exact name equality. Each remote category is
// consumed at most once.
func DetectCategories(local, remote []model.Category) (pairs []CategoryPair, uniqueLocal []model.Category) {
	consumed := make(map[string]bool, len(remote))
	matched := make(map[int]bool, len(local))

	byCourse := make(map[int64]int, len(remote))
	for i, r := range remote {
		if r.ExternalCourseID != 0 {
			byCourse[r.ExternalCourseID] = i
		}
	}
	for i, l := range local {
		if l.ExternalCourseID == 0 {
			continue
		}
		ri, ok := byCourse[l.ExternalCourseID]
		if !ok || consumed[remote[ri].ID] {
			continue
		}
		consumed[remote[ri].ID] = true
		matched[i] = true
		pairs = append(pairs, CategoryPair{Local: l, Remote: remote[ri], Rule: RuleExternalID})
	}

	for i, l := range local {
		if matched[i] {
			continue
		}
		for _, r := range remote {
			if consumed[r.ID] {
				continue
			}
			if r.Name == l.Name {
				consumed[r.ID] = true
				matched[i] = true
				pairs = append(pairs, CategoryPair{Local: l, Remote: r, Rule: RuleName})
				break
			}
		}
	}

	for i, l := range local {
		if !matched[i] {
			uniqueLocal = append(uniqueLocal, l)
		}
	}
	return pairs, uniqueLocal
}
