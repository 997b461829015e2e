// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine wires the sync pipeline together: collection from the LMS,
// category resolution, reconciliation against local state, and handoff of
// the surviving candidates to the approval workflow. The presentation layer
// talks to this package and to the workflow; nothing else.
package engine

import (
	"context"
	"log"
	"time"

	"github.com/jeranaias/coursedue/internal/approval"
	"github.com/jeranaias/coursedue/internal/category"
	"github.com/jeranaias/coursedue/internal/collect"
	"github.com/jeranaias/coursedue/internal/config"
	"github.com/jeranaias/coursedue/internal/lms"
	"github.com/jeranaias/coursedue/internal/reconcile"
	"github.com/jeranaias/coursedue/internal/store"

	"golang.org/x/time/rate"
)

// Engine owns one user's sync pipeline.
type Engine struct {
	collector  *collect.Collector
	categories *category.Resolver
	reconciler *reconcile.Reconciler
	workflow   *approval.Workflow
	backend    store.Backend
}

// SyncReport is what one full sync run produced.
type SyncReport struct {
	PendingCount  int
	CoursesSeen   int
	FailedCourses int
	DatesUpdated  int
	AutoCompleted int
}

// New assembles an engine from configuration. The backend must already be
// scoped to the authenticated principal (or to the anonymous local store).
func New(cfg *config.Config, backend store.Backend, kv store.KV) *Engine {
	client := lms.NewClient(cfg.LMS.BaseURL, cfg.LMS.Token).
		WithPageSize(cfg.LMS.PageSize).
		WithLimiter(rate.NewLimiter(rate.Limit(cfg.LMS.RequestsPerSecond), cfg.LMS.Burst))

	cache := reconcile.NewSubmissionCache(time.Duration(cfg.Sync.CacheTTLSecs)*time.Second, nil)

	return &Engine{
		collector:  collect.New(client, cfg.Sync.FetchConcurrency),
		categories: category.NewResolver(backend),
		reconciler: reconcile.New(backend, client, cache, cfg.Sync.SubmissionConcurrency),
		workflow: approval.NewWorkflow(backend, kv, nil).
			WithUndoWindow(time.Duration(cfg.Sync.UndoWindowSecs) * time.Second),
		backend: backend,
	}
}

// NewFromParts assembles an engine from pre-built components. Tests and the
// presentation layer use this to substitute fakes.
func NewFromParts(collector *collect.Collector, categories *category.Resolver, reconciler *reconcile.Reconciler, workflow *approval.Workflow, backend store.Backend) *Engine {
	return &Engine{
		collector:  collector,
		categories: categories,
		reconciler: reconciler,
		workflow:   workflow,
		backend:    backend,
	}
}

// Workflow exposes the approval workflow for the presentation layer.
func (e *Engine) Workflow() *approval.Workflow {
	return e.workflow
}

// Sync runs one full pipeline pass. Credential failures short-circuit: no
// reconciliation happens for the run and collect.ErrCredentials is returned
// for the caller to surface. A run superseded by a newer one returns
// collect.ErrSuperseded, which callers normally swallow.
func (e *Engine) Sync(ctx context.Context) (*SyncReport, error) {
	result, err := e.collector.Collect(ctx)
	if err != nil {
		return nil, err
	}

	if err := e.categories.Resolve(ctx, result.Courses); err != nil {
		// Category trouble does not invalidate the fetched candidates.
		log.Printf("engine: category resolution failed: %v", err)
	}

	outcome, err := e.reconciler.Run(ctx, result.Candidates)
	if err != nil {
		return nil, err
	}

	tasks, err := e.backend.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	cats, err := e.backend.Categories(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.workflow.SetState(outcome.Pending, tasks); err != nil {
		return nil, err
	}
	e.workflow.SetCategories(cats)

	return &SyncReport{
		PendingCount:  len(outcome.Pending),
		CoursesSeen:   len(result.Courses),
		FailedCourses: result.FailedCourses,
		DatesUpdated:  outcome.DatesUpdated,
		AutoCompleted: outcome.AutoCompleted,
	}, nil
}
