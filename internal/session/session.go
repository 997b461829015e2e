// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session manages the anonymous local-session identity. Before a
// user links an account all data is owned by this session; the identity is
// reported in the merge audit record so merged data stays traceable to its
// origin.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/jeranaias/coursedue/internal/store"
)

// kvKey is where the session identity persists in the local KV store.
const kvKey = "session_id"

// Manager loads or creates the session identity, exactly once per process.
type Manager struct {
	kv store.KV

	mu sync.Mutex
	id string
}

// NewManager creates a manager over the given KV store.
func NewManager(kv store.KV) *Manager {
	return &Manager{kv: kv}
}

// SessionID returns the durable session identity, generating and persisting
// one on first use.
func (m *Manager) SessionID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.id != "" {
		return m.id, nil
	}

	data, err := m.kv.Get(kvKey)
	if err != nil {
		return "", fmt.Errorf("failed to load session id: %w", err)
	}
	if len(data) > 0 {
		m.id = string(data)
		return m.id, nil
	}

	id := generateSessionID()
	if err := m.kv.Set(kvKey, []byte(id)); err != nil {
		return "", fmt.Errorf("failed to persist session id: %w", err)
	}
	m.id = id
	return id, nil
}

// Reset discards the persisted identity. Called after a successful merge so
// a future anonymous session starts fresh.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = ""
	return m.kv.Remove(kvKey)
}

// generateSessionID creates a "sess_<hex>" identity.
func generateSessionID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "sess_" + hex.EncodeToString(bytes)
}
