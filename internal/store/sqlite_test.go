// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"path/filepath"
	"testing"
)

// =============================================================================
// SQLITE KV TESTS
// =============================================================================

func openTestKV(t *testing.T) *SQLiteKV {
	t.Helper()
	kv, err := OpenSQLiteKV(filepath.Join(t.TempDir(), "nested", "local.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteKV: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestSQLiteKV_RoundTrip(t *testing.T) {
	kv := openTestKV(t)

	if err := kv.Set("session_id", []byte("sess_ab12")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := kv.Get("session_id")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "sess_ab12" {
		t.Errorf("Get = %q, want %q", got, "sess_ab12")
	}
}

func TestSQLiteKV_MissingKey(t *testing.T) {
	kv := openTestKV(t)

	got, err := kv.Get("absent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("missing key should yield nil, got %q", got)
	}
}

func TestSQLiteKV_Upsert(t *testing.T) {
	kv := openTestKV(t)

	if err := kv.Set("k", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := kv.Set("k", []byte("v2")); err != nil {
		t.Fatalf("Set over existing key: %v", err)
	}

	got, _ := kv.Get("k")
	if string(got) != "v2" {
		t.Errorf("Get = %q, want the updated value", got)
	}
}

func TestSQLiteKV_Remove(t *testing.T) {
	kv := openTestKV(t)

	if err := kv.Set("k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := kv.Remove("k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got, _ := kv.Get("k"); got != nil {
		t.Error("removed key should be gone")
	}

	// Removing an absent key is not an error.
	if err := kv.Remove("absent"); err != nil {
		t.Errorf("Remove(absent) = %v, want nil", err)
	}
}

func TestSQLiteKV_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")

	kv, err := OpenSQLiteKV(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := kv.Set("pending_candidates", []byte(`[]`)); err != nil {
		t.Fatal(err)
	}
	if err := kv.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenSQLiteKV(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.Get("pending_candidates")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `[]` {
		t.Errorf("value did not survive reopen: %q", got)
	}
}
