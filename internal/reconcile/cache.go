// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"sync"
	"time"
)

// DefaultCacheTTL is how long a submission-state lookup stays fresh.
const DefaultCacheTTL = 10 * time.Minute

// Clock abstracts time.Now so cache expiry is testable with a fake clock.
type Clock interface {
	Now() time.Time
}

// systemClock is the production clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// =============================================================================
// SUBMISSION CACHE
// =============================================================================

// SubmissionCache memoizes per-item submission-state lookups, keyed by the
// composite "<course>-<assignment>" identity. It is injected into the
// reconciler rather than living as package state, so tests can substitute
// a clock and inspect entries.
type SubmissionCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	clock   Clock
}

type cacheEntry struct {
	submitted bool
	expires   time.Time
}

// NewSubmissionCache creates a cache with the given TTL and clock. Zero ttl
// means DefaultCacheTTL; nil clock means the system clock.
func NewSubmissionCache(ttl time.Duration, clock Clock) *SubmissionCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &SubmissionCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		clock:   clock,
	}
}

// Get returns the cached submission state for key, and whether a fresh entry
// existed. Expired entries are evicted on read.
func (c *SubmissionCache) Get(key string) (submitted, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false, false
	}
	if c.clock.Now().After(e.expires) {
		delete(c.entries, key)
		return false, false
	}
	return e.submitted, true
}

// Set records the submission state for key.
func (c *SubmissionCache) Set(key string, submitted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		submitted: submitted,
		expires:   c.clock.Now().Add(c.ttl),
	}
}

// Expire drops the entry for key, forcing the next lookup to hit the API.
func (c *SubmissionCache) Expire(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of live entries (expired ones included until read).
func (c *SubmissionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
