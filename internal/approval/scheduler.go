// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package approval

import (
	"sync"
	"time"
)

// =============================================================================
// SCHEDULER ABSTRACTION
// =============================================================================

// CancelFunc cancels a scheduled call. It returns true if the call was
// canceled before it started; false means the call already fired (or is
// firing) and cancellation had no effect.
type CancelFunc func() bool

// Scheduler schedules a single deferred call. The timed undo window is built
// on this abstraction instead of raw timers so race-condition tests can
// control time deterministically.
type Scheduler interface {
	ScheduleOnce(d time.Duration, fn func()) CancelFunc
}

// =============================================================================
// TIMER SCHEDULER
// =============================================================================

// TimerScheduler is the production scheduler, backed by time.AfterFunc.
type TimerScheduler struct{}

// ScheduleOnce runs fn after d on a timer goroutine.
func (TimerScheduler) ScheduleOnce(d time.Duration, fn func()) CancelFunc {
	t := time.AfterFunc(d, fn)
	return t.Stop
}

// =============================================================================
// MANUAL SCHEDULER
// =============================================================================

// ManualScheduler queues calls until Fire is invoked. Tests use it to step
// the undo window deterministically; cancellation and firing are serialized
// through one mutex so the check-then-clear-then-act ordering holds.
type ManualScheduler struct {
	mu      sync.Mutex
	nextID  int
	pending map[int]*manualEntry
}

type manualEntry struct {
	fn       func()
	delay    time.Duration
	canceled bool
	fired    bool
}

// NewManualScheduler creates an empty manual scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{pending: make(map[int]*manualEntry)}
}

// ScheduleOnce queues fn; it will not run until Fire or FireAll.
func (s *ManualScheduler) ScheduleOnce(d time.Duration, fn func()) CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	e := &manualEntry{fn: fn, delay: d}
	s.pending[id] = e

	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if e.fired {
			return false
		}
		e.canceled = true
		delete(s.pending, id)
		return true
	}
}

// FireAll runs every queued call that has not been canceled, in schedule
// order, and clears the queue.
func (s *ManualScheduler) FireAll() {
	s.mu.Lock()
	ids := make([]int, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	// map iteration order is random; fire in schedule order
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	var fns []func()
	for _, id := range ids {
		e := s.pending[id]
		if e == nil || e.canceled {
			continue
		}
		e.fired = true
		delete(s.pending, id)
		fns = append(fns, e.fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// PendingCount returns the number of queued, uncanceled calls.
func (s *ManualScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
