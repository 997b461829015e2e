// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jeranaias/coursedue/internal/approval"
	"github.com/jeranaias/coursedue/internal/category"
	"github.com/jeranaias/coursedue/internal/collect"
	"github.com/jeranaias/coursedue/internal/lms"
	"github.com/jeranaias/coursedue/internal/model"
	"github.com/jeranaias/coursedue/internal/reconcile"
	"github.com/jeranaias/coursedue/internal/store"
)

// fakeLMS is the full API surface the pipeline consumes, served from maps so
// scenarios can mutate upstream state between sync runs.
type fakeLMS struct {
	courses     []lms.Course
	coursesErr  error
	assignments map[int64][]lms.Assignment
	submitted   map[string]bool
}

func (f *fakeLMS) ActiveCourses(ctx context.Context) ([]lms.Course, error) {
	if f.coursesErr != nil {
		return nil, f.coursesErr
	}
	return f.courses, nil
}

func (f *fakeLMS) CourseAssignments(ctx context.Context, courseID int64) ([]lms.Assignment, error) {
	return f.assignments[courseID], nil
}

func (f *fakeLMS) HasSubmission(ctx context.Context, courseID, assignmentID int64) (bool, error) {
	return f.submitted[model.ExternalKey(courseID, assignmentID)], nil
}

func duePtr(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

// testEngine wires a full pipeline over fakes.
func testEngine(api *fakeLMS, backend store.Backend) *Engine {
	workflow := approval.NewWorkflow(backend, store.NewMemoryKV(), approval.NewManualScheduler())
	return NewFromParts(
		collect.New(api, 2),
		category.NewResolver(backend),
		reconcile.New(backend, api, reconcile.NewSubmissionCache(time.Minute, nil), 2),
		workflow,
		backend,
	)
}

// =============================================================================
// PIPELINE TESTS
// =============================================================================

func TestSync_NewAssignmentsBecomePendingAndCategoriesAppear(t *testing.T) {
	api := &fakeLMS{
		courses: []lms.Course{{ID: 101, Name: "Biology"}},
		assignments: map[int64][]lms.Assignment{
			101: {
				{ID: 6, Name: "Essay", DueAt: duePtr("2025-03-01T23:59:00Z")},
				{ID: 7, Name: "Undated"},
			},
		},
	}
	backend := store.NewMemoryBackend(store.Principal{UserID: "local"})
	e := testEngine(api, backend)

	report, err := e.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.PendingCount != 1 {
		t.Errorf("PendingCount = %d, want the dated assignment only", report.PendingCount)
	}
	if report.CoursesSeen != 1 || report.FailedCourses != 0 {
		t.Errorf("report = %+v", report)
	}

	pending := e.Workflow().Pending()
	if len(pending) != 1 || pending[0].Key() != "101-6" {
		t.Fatalf("pending = %+v", pending)
	}

	cats, _ := backend.Categories(context.Background())
	if len(cats) != 1 || cats[0].ExternalCourseID != 101 {
		t.Errorf("course category not resolved: %+v", cats)
	}
}

func TestSync_ApproveDefaultsToCourseCategory(t *testing.T) {
	api := &fakeLMS{
		courses: []lms.Course{{ID: 10, Name: "CS101"}},
		assignments: map[int64][]lms.Assignment{
			10: {{ID: 20, Name: "Homework 1", DueAt: duePtr("2025-03-01T23:59:00Z")}},
		},
	}
	backend := store.NewMemoryBackend(store.Principal{UserID: "local"})
	e := testEngine(api, backend)
	ctx := context.Background()

	if _, err := e.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	cats, _ := backend.Categories(ctx)
	if len(cats) != 1 || cats[0].ExternalCourseID != 10 {
		t.Fatalf("course category not resolved: %+v", cats)
	}

	created, err := e.Workflow().Approve(ctx, "10-20", approval.TaskForm{})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if created.CategoryID != cats[0].ID {
		t.Errorf("CategoryID = %q, want %q", created.CategoryID, cats[0].ID)
	}
}

func TestSync_SyncDisabledCourseStaysHidden(t *testing.T) {
	api := &fakeLMS{
		courses: []lms.Course{{ID: 10, Name: "CS101"}},
		assignments: map[int64][]lms.Assignment{
			10: {{ID: 20, Name: "Homework 1", DueAt: duePtr("2025-03-01T23:59:00Z")}},
		},
	}
	backend := store.NewMemoryBackend(store.Principal{UserID: "local"})
	ctx := context.Background()
	// The user linked the course earlier and then switched its sync off.
	if _, err := backend.CreateCategory(ctx, model.Category{
		Name:             "CS101",
		ExternalCourseID: 10,
		SyncEnabled:      false,
	}); err != nil {
		t.Fatal(err)
	}
	e := testEngine(api, backend)

	report, err := e.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.PendingCount != 0 {
		t.Errorf("PendingCount = %d, want 0", report.PendingCount)
	}
	if len(e.Workflow().Pending()) != 0 {
		t.Errorf("pending = %+v, want empty", e.Workflow().Pending())
	}

	// The category link survives the run untouched.
	cats, _ := backend.Categories(ctx)
	if len(cats) != 1 || cats[0].SyncEnabled {
		t.Errorf("category link churned: %+v", cats)
	}
}

func TestSync_ApprovedAssignmentDoesNotResurface(t *testing.T) {
	api := &fakeLMS{
		courses: []lms.Course{{ID: 101, Name: "Biology"}},
		assignments: map[int64][]lms.Assignment{
			101: {{ID: 6, Name: "Essay", DueAt: duePtr("2025-03-01T23:59:00Z")}},
		},
	}
	backend := store.NewMemoryBackend(store.Principal{UserID: "local"})
	e := testEngine(api, backend)

	if _, err := e.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Workflow().Approve(context.Background(), "101-6", approval.TaskForm{}); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	report, err := e.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.PendingCount != 0 {
		t.Errorf("approved assignment resurfaced: PendingCount = %d", report.PendingCount)
	}
}

func TestSync_MovedDueDatePropagatesToApprovedTask(t *testing.T) {
	api := &fakeLMS{
		courses: []lms.Course{{ID: 101, Name: "Biology"}},
		assignments: map[int64][]lms.Assignment{
			101: {{ID: 6, Name: "Essay", DueAt: duePtr("2025-03-01T23:59:00Z")}},
		},
	}
	backend := store.NewMemoryBackend(store.Principal{UserID: "local"})
	e := testEngine(api, backend)
	ctx := context.Background()

	if _, err := e.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Workflow().Approve(ctx, "101-6", approval.TaskForm{}); err != nil {
		t.Fatal(err)
	}

	// Instructor extends the deadline.
	api.assignments[101] = []lms.Assignment{
		{ID: 6, Name: "Essay", DueAt: duePtr("2025-03-08T23:59:00Z")},
	}

	report, err := e.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.DatesUpdated != 1 {
		t.Errorf("DatesUpdated = %d, want 1", report.DatesUpdated)
	}

	tasks, _ := backend.Tasks(ctx)
	if len(tasks) != 1 || !tasks[0].DueAt.Equal(*duePtr("2025-03-08T23:59:00Z")) {
		t.Errorf("task did not follow the moved deadline: %+v", tasks)
	}

	// The workflow mirror follows the store.
	mirror := e.Workflow().Tasks()
	if len(mirror) != 1 || !mirror[0].DueAt.Equal(*duePtr("2025-03-08T23:59:00Z")) {
		t.Errorf("mirror out of date: %+v", mirror)
	}
}

func TestSync_SubmittedQuizAutoCompletes(t *testing.T) {
	api := &fakeLMS{
		courses: []lms.Course{{ID: 101, Name: "Biology"}},
		assignments: map[int64][]lms.Assignment{
			101: {{ID: 7, Name: "Reading Quiz", DueAt: duePtr("2025-03-03T23:59:00Z"), SubmissionTypes: []string{"online_quiz"}}},
		},
		submitted: map[string]bool{},
	}
	backend := store.NewMemoryBackend(store.Principal{UserID: "local"})
	e := testEngine(api, backend)
	ctx := context.Background()

	if _, err := e.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Workflow().Approve(ctx, "101-7", approval.TaskForm{}); err != nil {
		t.Fatal(err)
	}

	// Student submits the quiz upstream.
	api.submitted["101-7"] = true

	report, err := e.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.AutoCompleted != 1 {
		t.Errorf("AutoCompleted = %d, want 1", report.AutoCompleted)
	}

	tasks, _ := backend.Tasks(ctx)
	if tasks[0].Status != model.StatusComplete {
		t.Errorf("status = %q, want complete", tasks[0].Status)
	}
}

func TestSync_CredentialFailureShortCircuits(t *testing.T) {
	api := &fakeLMS{coursesErr: &lms.UpstreamError{Status: 401}}
	backend := store.NewMemoryBackend(store.Principal{UserID: "local"})
	e := testEngine(api, backend)

	_, err := e.Sync(context.Background())
	if !errors.Is(err, collect.ErrCredentials) {
		t.Fatalf("err = %v, want ErrCredentials", err)
	}
}
