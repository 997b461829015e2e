// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"strings"
	"testing"

	"github.com/jeranaias/coursedue/internal/store"
)

// =============================================================================
// SESSION IDENTITY TESTS
// =============================================================================

func TestSessionID_GeneratedOnceAndPersisted(t *testing.T) {
	kv := store.NewMemoryKV()
	m := NewManager(kv)

	id, err := m.SessionID()
	if err != nil {
		t.Fatalf("SessionID: %v", err)
	}
	if !strings.HasPrefix(id, "sess_") {
		t.Errorf("id = %q, want sess_ prefix", id)
	}

	again, err := m.SessionID()
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Errorf("second call = %q, want stable %q", again, id)
	}

	// A second manager over the same KV loads the same identity.
	other := NewManager(kv)
	loaded, err := other.SessionID()
	if err != nil {
		t.Fatal(err)
	}
	if loaded != id {
		t.Errorf("reloaded = %q, want persisted %q", loaded, id)
	}
}

func TestReset_StartsAFreshIdentity(t *testing.T) {
	kv := store.NewMemoryKV()
	m := NewManager(kv)

	first, err := m.SessionID()
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	second, err := m.SessionID()
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Errorf("identity should change after reset, got %q twice", first)
	}
}
