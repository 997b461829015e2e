// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"
)

// testClient builds a client pointed at a httptest server, with the rate
// limiter opened up so tests run fast.
func testClient(srv *httptest.Server) *Client {
	return NewClient(srv.URL, "test-token").
		WithHTTPClient(srv.Client()).
		WithLimiter(rate.NewLimiter(rate.Inf, 1))
}

// =============================================================================
// NORMALIZATION TESTS
// =============================================================================

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "clean", in: "https://lms.example.edu", want: "https://lms.example.edu"},
		{name: "trailing slash", in: "https://lms.example.edu/", want: "https://lms.example.edu"},
		{name: "pasted api path", in: "https://lms.example.edu/api/v1", want: "https://lms.example.edu"},
		{name: "api path with slash", in: "https://lms.example.edu/api/v1/", want: "https://lms.example.edu"},
		{name: "surrounding whitespace", in: "  https://lms.example.edu  ", want: "https://lms.example.edu"},
		{name: "empty", in: "", want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeBaseURL(tc.in); got != tc.want {
				t.Errorf("NormalizeBaseURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeToken(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "clean", in: "abc123", want: "abc123"},
		{name: "pasted bearer prefix", in: "Bearer abc123", want: "abc123"},
		{name: "whitespace", in: "  abc123  ", want: "abc123"},
		{name: "bearer and whitespace", in: " Bearer abc123 ", want: "abc123"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeToken(tc.in); got != tc.want {
				t.Errorf("NormalizeToken(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestClient_IsConfigured(t *testing.T) {
	if !NewClient("https://lms.example.edu", "tok").IsConfigured() {
		t.Error("client with both values should be configured")
	}
	if NewClient("https://lms.example.edu", "").IsConfigured() {
		t.Error("client without a token should not be configured")
	}
	if NewClient("", "tok").IsConfigured() {
		t.Error("client without a base URL should not be configured")
	}
}

// =============================================================================
// PAGINATION TESTS
// =============================================================================

func TestClient_ActiveCourses_FollowsPagination(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/courses?page=2>; rel="next", <%s/api/v1/courses?page=1>; rel="first"`, srv.URL, srv.URL))
			fmt.Fprint(w, `[{"id":1,"name":"Biology"},{"id":2,"name":"Chemistry"}]`)
		case "2":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/courses?page=3>; rel="next"`, srv.URL))
			fmt.Fprint(w, `[{"id":3,"name":"Physics"}]`)
		case "3":
			// Last page: no rel="next".
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/courses?page=1>; rel="first"`, srv.URL))
			fmt.Fprint(w, `[{"id":4,"name":"Calculus"}]`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	courses, err := testClient(srv).ActiveCourses(context.Background())
	if err != nil {
		t.Fatalf("ActiveCourses() error: %v", err)
	}
	if len(courses) != 4 {
		t.Fatalf("got %d courses across pages, want 4", len(courses))
	}
	if courses[0].Name != "Biology" || courses[3].Name != "Calculus" {
		t.Errorf("page concatenation out of order: %+v", courses)
	}
}

func TestParseNextLink(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{
			name:   "next among others",
			header: `<https://x/api?page=2>; rel="next", <https://x/api?page=9>; rel="last"`,
			want:   "https://x/api?page=2",
		},
		{
			name:   "no next",
			header: `<https://x/api?page=1>; rel="first", <https://x/api?page=9>; rel="last"`,
			want:   "",
		},
		{name: "empty", header: "", want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := parseNextLink(tc.header); got != tc.want {
				t.Errorf("parseNextLink(%q) = %q, want %q", tc.header, got, tc.want)
			}
		})
	}
}

// =============================================================================
// ERROR TAXONOMY TESTS
// =============================================================================

func TestClient_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"errors":[{"message":"Invalid access token."}]}`)
	}))
	defer srv.Close()

	_, err := testClient(srv).ActiveCourses(context.Background())
	if err == nil {
		t.Fatal("expected an error for 401")
	}

	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("error %T is not an UpstreamError", err)
	}
	if ue.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", ue.Status)
	}
	if !IsAuthError(err) {
		t.Error("401 should classify as an auth error")
	}
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	_, err := testClient(srv).ActiveCourses(context.Background())
	if err == nil {
		t.Fatal("expected an error against a closed server")
	}

	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("error %T is not a NetworkError", err)
	}
	if IsAuthError(err) {
		t.Error("a transport failure should not classify as an auth error")
	}
}

func TestClient_ProtocolError_NonArrayBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"unexpected":"object"}`)
	}))
	defer srv.Close()

	_, err := testClient(srv).ActiveCourses(context.Background())
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("error %T is not a ProtocolError", err)
	}
}

func TestIsAuthError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "400", err: &UpstreamError{Status: 400}, want: true},
		{name: "401", err: &UpstreamError{Status: 401}, want: true},
		{name: "403", err: &UpstreamError{Status: 403}, want: true},
		{name: "404", err: &UpstreamError{Status: 404}, want: false},
		{name: "500", err: &UpstreamError{Status: 500}, want: false},
		{name: "network", err: &NetworkError{Err: errors.New("refused")}, want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsAuthError(tc.err); got != tc.want {
				t.Errorf("IsAuthError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

// =============================================================================
// SUBMISSION STATUS TESTS
// =============================================================================

func TestClient_HasSubmission(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{
			name: "submitted",
			body: `{"workflow_state":"submitted","submitted_at":"2025-03-01T12:00:00Z"}`,
			want: true,
		},
		{
			name: "graded counts as submitted",
			body: `{"workflow_state":"graded","submitted_at":"2025-03-01T12:00:00Z"}`,
			want: true,
		},
		{
			name: "unsubmitted",
			body: `{"workflow_state":"unsubmitted","submitted_at":null}`,
			want: false,
		},
		{
			name: "unsubmitted with stale timestamp",
			body: `{"workflow_state":"unsubmitted","submitted_at":"2025-03-01T12:00:00Z"}`,
			want: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				wantPath := "/api/v1/courses/42/assignments/7/submissions/self"
				if r.URL.Path != wantPath {
					t.Errorf("path = %q, want %q", r.URL.Path, wantPath)
				}
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			got, err := testClient(srv).HasSubmission(context.Background(), 42, 7)
			if err != nil {
				t.Fatalf("HasSubmission() error: %v", err)
			}
			if got != tc.want {
				t.Errorf("HasSubmission() = %v, want %v", got, tc.want)
			}
		})
	}
}

// =============================================================================
// ASSIGNMENT WIRE TESTS
// =============================================================================

func TestAssignment_IsQuiz(t *testing.T) {
	quiz := Assignment{SubmissionTypes: []string{"online_quiz"}}
	paper := Assignment{SubmissionTypes: []string{"on_paper"}}
	mixed := Assignment{SubmissionTypes: []string{"online_upload", "online_quiz"}}

	if !quiz.IsQuiz() || !mixed.IsQuiz() {
		t.Error("online_quiz submissions should classify as quizzes")
	}
	if paper.IsQuiz() || (Assignment{}).IsQuiz() {
		t.Error("non-quiz submissions should not classify as quizzes")
	}
}
