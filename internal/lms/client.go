// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/coursedue/internal/util"
)

// Configuration constants for the LMS API client.
const (
	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize is the per_page value requested from list endpoints.
	DefaultPageSize = 50

	// DefaultRequestsPerSecond throttles outbound API calls.
	DefaultRequestsPerSecond = 8

	// DefaultBurst is the limiter burst size.
	DefaultBurst = 4

	// MaxResponseSize caps response bodies to guard against runaway reads.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB
)

// apiPathSuffix is the API mount point users commonly paste along with the
// host when copying the base URL out of their browser.
const apiPathSuffix = "/api/v1"

// =============================================================================
// CREDENTIAL NORMALIZATION
// =============================================================================

// NormalizeBaseURL cleans a user-supplied base URL: trims whitespace and
// trailing slashes, and strips a pasted "/api/v1" suffix so the client can
// append API paths itself.
func NormalizeBaseURL(raw string) string {
	u := strings.TrimSpace(raw)
	u = strings.TrimRight(u, "/")
	u = strings.TrimSuffix(u, apiPathSuffix)
	return strings.TrimRight(u, "/")
}

// NormalizeToken cleans a user-supplied access token, stripping a pasted
// "Bearer " prefix and surrounding whitespace.
func NormalizeToken(raw string) string {
	t := strings.TrimSpace(raw)
	t = strings.TrimPrefix(t, "Bearer ")
	return strings.TrimSpace(t)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// Course is one active course enrollment as reported by the LMS.
type Course struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Assignment is one assignment in a course. DueAt is nil for undated work.
type Assignment struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	DueAt           *time.Time `json:"due_at"`
	HTMLURL         string     `json:"html_url"`
	Description     string     `json:"description"`
	PointsPossible  float64    `json:"points_possible"`
	SubmissionTypes []string   `json:"submission_types"`
}

// IsQuiz reports whether the assignment is backed by an online quiz.
func (a Assignment) IsQuiz() bool {
	for _, t := range a.SubmissionTypes {
		if t == "online_quiz" {
			return true
		}
	}
	return false
}

// submission is the wire shape of the per-item submission status endpoint.
type submission struct {
	WorkflowState string     `json:"workflow_state"`
	SubmittedAt   *time.Time `json:"submitted_at"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to an LMS-style API. The zero value is not usable; construct
// with NewClient, which normalizes the credential pair.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	pageSize   int
}

// NewClient creates a client for the given base URL and bearer token. Both
// are accepted in whatever shape the user pasted them; see NormalizeBaseURL
// and NormalizeToken.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    NormalizeBaseURL(baseURL),
		token:      NormalizeToken(token),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), DefaultBurst),
		pageSize:   DefaultPageSize,
	}
}

// WithHTTPClient sets a custom HTTP client (used by tests with httptest).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithLimiter sets a custom request rate limiter.
func (c *Client) WithLimiter(l *rate.Limiter) *Client {
	c.limiter = l
	return c
}

// WithPageSize sets the per_page value requested from list endpoints.
func (c *Client) WithPageSize(n int) *Client {
	if n > 0 {
		c.pageSize = n
	}
	return c
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// IsConfigured reports whether the client has a credential pair.
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.token != ""
}

// =============================================================================
// API OPERATIONS
// =============================================================================

// ActiveCourses fetches all active course enrollments, following pagination.
func (c *Client) ActiveCourses(ctx context.Context) ([]Course, error) {
	url := fmt.Sprintf("%s%s/courses?enrollment_state=active&per_page=%d",
		c.baseURL, apiPathSuffix, c.pageSize)

	items, err := c.FetchPaginated(ctx, url)
	if err != nil {
		return nil, err
	}

	courses := make([]Course, 0, len(items))
	for _, raw := range items {
		var course Course
		if err := json.Unmarshal(raw, &course); err != nil {
			return nil, &ProtocolError{Msg: "malformed course object", Err: err}
		}
		courses = append(courses, course)
	}
	return courses, nil
}

// CourseAssignments fetches every assignment in one course, following
// pagination.
func (c *Client) CourseAssignments(ctx context.Context, courseID int64) ([]Assignment, error) {
	url := fmt.Sprintf("%s%s/courses/%d/assignments?per_page=%d",
		c.baseURL, apiPathSuffix, courseID, c.pageSize)

	items, err := c.FetchPaginated(ctx, url)
	if err != nil {
		return nil, err
	}

	assignments := make([]Assignment, 0, len(items))
	for _, raw := range items {
		var a Assignment
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, &ProtocolError{Msg: "malformed assignment object", Err: err}
		}
		assignments = append(assignments, a)
	}
	return assignments, nil
}

// HasSubmission reports whether the authenticated user has submitted the
// given assignment. Used by the reconciler's auto-completion pass.
func (c *Client) HasSubmission(ctx context.Context, courseID, assignmentID int64) (bool, error) {
	url := fmt.Sprintf("%s%s/courses/%d/assignments/%d/submissions/self",
		c.baseURL, apiPathSuffix, courseID, assignmentID)

	body, _, err := c.get(ctx, url)
	if err != nil {
		return false, err
	}

	var sub submission
	if err := json.Unmarshal(body, &sub); err != nil {
		return false, &ProtocolError{Msg: "malformed submission object", Err: err}
	}
	return sub.SubmittedAt != nil && sub.WorkflowState != "unsubmitted", nil
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

// get issues one authenticated GET and returns the body and the next-page
// link (empty when the response carries none).
func (c *Client) get(ctx context.Context, url string) (body []byte, next string, err error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, "", &NetworkError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &UpstreamError{
			Status: resp.StatusCode,
			Body:   truncateBody(body),
		}
	}

	return body, parseNextLink(resp.Header.Get("Link")), nil
}

// truncateBody keeps upstream error messages readable in logs.
func truncateBody(body []byte) string {
	return util.TruncateRunes(strings.TrimSpace(string(body)), 200)
}

// parseNextLink extracts the rel="next" URL from a Link response header.
// The header carries comma-separated entries of the form
// <https://host/path?page=2>; rel="next".
func parseNextLink(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ",") {
		sections := strings.Split(part, ";")
		if len(sections) < 2 {
			continue
		}
		url := strings.Trim(strings.TrimSpace(sections[0]), "<>")
		for _, param := range sections[1:] {
			if strings.TrimSpace(param) == `rel="next"` {
				return url
			}
		}
	}
	return ""
}
