// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for anvil.
//
// Configuration is stored in TOML with sensible defaults, environment
// variable overrides, and validation.
//
// Locations (in order of precedence):
//   - ANVIL_* environment variables
//   - ~/.anvil/config.toml
//   - Built-in defaults
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/anvil/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete anvil configuration.
type Config struct {
	// Version of the config schema, written on save.
	Version string `toml:"version"`

	// API configuration for the chat completion endpoint.
	API APIConfig `toml:"api"`

	// Chat configuration for conversation behavior.
	Chat ChatConfig `toml:"chat"`

	// Files configuration for extracted file handling.
	Files FilesConfig `toml:"files"`

	// UI configuration for terminal output.
	UI UIConfig `toml:"ui"`
}

// APIConfig contains chat endpoint configuration.
type APIConfig struct {
	// BaseURL is the API base URL (e.g. "https://openrouter.ai/api/v1").
	BaseURL string `toml:"base_url"`
	// Key is the bearer token for the endpoint. May be empty for
	// endpoints that do not require authentication.
	Key string `toml:"key"`
	// Model is the model identifier sent with each request.
	Model string `toml:"model"`
	// TimeoutSecs is the per-request stream timeout in seconds.
	// A stream that produces no terminal event within this window is
	// cancelled. Default: 120.
	TimeoutSecs int `toml:"timeout_secs"`
	// MaxTokens caps the completion length (0 = server default).
	MaxTokens int `toml:"max_tokens"`
	// Temperature is the sampling temperature (0 = server default).
	Temperature float64 `toml:"temperature"`
}

// ChatConfig contains conversation configuration.
type ChatConfig struct {
	// SystemPrompt seeds every conversation as the fixed first message.
	SystemPrompt string `toml:"system_prompt"`
}

// FilesConfig contains extracted-file handling configuration.
type FilesConfig struct {
	// Workspace is the directory relative paths are resolved against.
	// Empty means the current working directory.
	Workspace string `toml:"workspace"`
	// ConfirmWrites prompts before writing each extracted file.
	ConfirmWrites bool `toml:"confirm_writes"`
}

// UIConfig contains terminal output configuration.
type UIConfig struct {
	// Markdown renders completed replies through the markdown renderer
	// when stdout is a TTY.
	Markdown bool `toml:"markdown"`
	// SyntaxHighlight highlights extracted code blocks.
	SyntaxHighlight bool `toml:"syntax_highlight"`
	// Theme selects the color theme: "dark", "light", or "auto".
	Theme string `toml:"theme"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// configVersion is written so future schema migrations can detect
	// old files.
	configVersion = "1"

	// DefaultBaseURL is the default chat endpoint base URL.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultModel is the default model identifier.
	DefaultModel = "openrouter/auto"

	// DefaultTimeoutSecs is the default stream timeout.
	DefaultTimeoutSecs = 120

	// DefaultSystemPrompt seeds new conversations.
	DefaultSystemPrompt = "You are a helpful coding assistant. When you create or modify " +
		"a file, emit it as a fenced code block whose info string is " +
		"\"language:path\", for example ```python:src/app.py ... ```."
)

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Version: configVersion,
		API: APIConfig{
			BaseURL:     DefaultBaseURL,
			Model:       DefaultModel,
			TimeoutSecs: DefaultTimeoutSecs,
		},
		Chat: ChatConfig{
			SystemPrompt: DefaultSystemPrompt,
		},
		Files: FilesConfig{
			ConfirmWrites: true,
		},
		UI: UIConfig{
			Markdown:        true,
			SyntaxHighlight: true,
			Theme:           "auto",
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the anvil configuration directory (~/.anvil).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".anvil"), nil
}

// EnsureConfigDir creates the configuration directory if missing.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ConfigPath returns the path of the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads configuration from the default path, falling back to
// defaults when the file does not exist, then applies environment
// variable overrides and validates the result.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads configuration from an explicit path.
// A missing file is not an error; defaults are used.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// First run, defaults apply.
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies ANVIL_* environment variables on top of the
// file-sourced values. Environment always wins.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ANVIL_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("ANVIL_API_KEY"); v != "" {
		c.API.Key = v
	}
	if v := os.Getenv("ANVIL_MODEL"); v != "" {
		c.API.Model = v
	}
	if v := os.Getenv("ANVIL_TIMEOUT_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.API.TimeoutSecs = secs
		}
	}
	if v := os.Getenv("ANVIL_WORKSPACE"); v != "" {
		c.Files.Workspace = v
	}
}

// Validate checks the configuration for values that would fail at
// request time.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url must not be empty")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url %q is not a valid URL", c.API.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url scheme %q is not http(s)", u.Scheme)
	}
	if c.API.TimeoutSecs <= 0 {
		return fmt.Errorf("api.timeout_secs must be positive, got %d", c.API.TimeoutSecs)
	}
	if c.API.Model == "" {
		return errors.New("api.model must not be empty")
	}
	switch strings.ToLower(c.UI.Theme) {
	case "", "auto", "dark", "light":
	default:
		return fmt.Errorf("ui.theme %q is not one of auto, dark, light", c.UI.Theme)
	}
	return nil
}

// Save writes the configuration atomically to the default path with
// owner-only permissions (the file may contain the API key).
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the configuration atomically to an explicit path.
func (c *Config) SaveTo(path string) error {
	c.Version = configVersion

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return util.AtomicWriteFile(path, buf.Bytes(), 0600)
}

// =============================================================================
// GLOBAL ACCESS
// =============================================================================

var (
	globalMu  sync.RWMutex
	globalCfg *Config
)

// Global returns the process-wide configuration, loading it on first use.
// Load errors fall back to defaults so the CLI can still start and report
// the problem.
func Global() *Config {
	globalMu.RLock()
	if globalCfg != nil {
		defer globalMu.RUnlock()
		return globalCfg
	}
	globalMu.RUnlock()

	cfg, err := Load()
	if err != nil {
		cfg = DefaultConfig()
	}
	SetGlobal(cfg)
	return cfg
}

// SetGlobal replaces the process-wide configuration.
// Used by the config watcher on hot reload and by tests.
func SetGlobal(cfg *Config) {
	globalMu.Lock()
	globalCfg = cfg
	globalMu.Unlock()
}
