// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for the sync
// engine.
//
// Configuration is TOML with environment variable overrides and validation.
// File location: ~/.coursedue/config.toml, or the path given explicitly.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/coursedue/internal/lms"
	"github.com/jeranaias/coursedue/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete engine configuration.
type Config struct {
	Version string `toml:"version"`

	LMS   LMSConfig   `toml:"lms"`
	Sync  SyncConfig  `toml:"sync"`
	Store StoreConfig `toml:"store"`
}

// LMSConfig describes the external API credential pair and request shaping.
type LMSConfig struct {
	// BaseURL is the LMS host, in whatever shape the user pasted it; the
	// client normalizes it.
	BaseURL string `toml:"base_url"`
	// Token is the bearer token, opaque to the core.
	Token string `toml:"token"`
	// PageSize is the per_page value for list endpoints.
	PageSize int `toml:"page_size"`
	// RequestsPerSecond throttles outbound API calls.
	RequestsPerSecond float64 `toml:"requests_per_second"`
	// Burst is the limiter burst size.
	Burst int `toml:"burst"`
}

// SyncConfig bounds the engine's fan-out and undo behavior.
type SyncConfig struct {
	// FetchConcurrency bounds the per-course assignment fan-out (1-16).
	FetchConcurrency int `toml:"fetch_concurrency"`
	// SubmissionConcurrency bounds the auto-completion fan-out (1-16).
	SubmissionConcurrency int `toml:"submission_concurrency"`
	// UndoWindowSecs is how long rejects/deletes stay reversible (1-60).
	UndoWindowSecs int `toml:"undo_window_secs"`
	// CacheTTLSecs is the submission-cache freshness window.
	CacheTTLSecs int `toml:"cache_ttl_secs"`
}

// StoreConfig locates the local durable store.
type StoreConfig struct {
	// Path is the KV database file. Empty means ~/.coursedue/local.db.
	Path string `toml:"path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		LMS: LMSConfig{
			PageSize:          lms.DefaultPageSize,
			RequestsPerSecond: lms.DefaultRequestsPerSecond,
			Burst:             lms.DefaultBurst,
		},
		Sync: SyncConfig{
			FetchConcurrency:      4,
			SubmissionConcurrency: 4,
			UndoWindowSecs:        7,
			CacheTTLSecs:          600,
		},
	}
}

// DefaultPath returns ~/.coursedue/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".coursedue", "config.toml"), nil
}

// DefaultStorePath returns ~/.coursedue/local.db.
func DefaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".coursedue", "local.db"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the config at path, applying defaults for absent fields, then
// environment overrides, then validation. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.Validate()
	return cfg, nil
}

// applyEnv overlays COURSEDUE_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("COURSEDUE_BASE_URL"); v != "" {
		c.LMS.BaseURL = v
	}
	if v := os.Getenv("COURSEDUE_TOKEN"); v != "" {
		c.LMS.Token = v
	}
	if v := os.Getenv("COURSEDUE_DB_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("COURSEDUE_UNDO_WINDOW_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sync.UndoWindowSecs = n
		}
	}
}

// Validate normalizes credentials and clamps numeric settings to sane
// bounds. It never fails; out-of-range values are corrected in place.
func (c *Config) Validate() {
	c.LMS.BaseURL = lms.NormalizeBaseURL(c.LMS.BaseURL)
	c.LMS.Token = lms.NormalizeToken(c.LMS.Token)

	c.LMS.PageSize = clampInt(c.LMS.PageSize, 1, 100, lms.DefaultPageSize)
	c.LMS.Burst = clampInt(c.LMS.Burst, 1, 32, lms.DefaultBurst)
	if c.LMS.RequestsPerSecond <= 0 {
		c.LMS.RequestsPerSecond = lms.DefaultRequestsPerSecond
	}

	c.Sync.FetchConcurrency = clampInt(c.Sync.FetchConcurrency, 1, 16, 4)
	c.Sync.SubmissionConcurrency = clampInt(c.Sync.SubmissionConcurrency, 1, 16, 4)
	c.Sync.UndoWindowSecs = clampInt(c.Sync.UndoWindowSecs, 1, 60, 7)
	c.Sync.CacheTTLSecs = clampInt(c.Sync.CacheTTLSecs, 1, 86400, 600)
}

// clampInt returns v clamped to [min, max], or def when v is zero.
func clampInt(v, min, max, def int) int {
	if v == 0 {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the config to path atomically.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0600)
}
