// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, DefaultModel, cfg.API.Model)
	assert.Equal(t, DefaultTimeoutSecs, cfg.API.TimeoutSecs)
	assert.True(t, cfg.Files.ConfirmWrites)
	assert.True(t, cfg.UI.Markdown)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
}

func TestLoadFrom_ParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
version = "1"

[api]
base_url = "https://example.com/v1"
key = "sk-or-test"
model = "anthropic/claude-3.5-sonnet"
timeout_secs = 30

[ui]
theme = "dark"
markdown = false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/v1", cfg.API.BaseURL)
	assert.Equal(t, "sk-or-test", cfg.API.Key)
	assert.Equal(t, "anthropic/claude-3.5-sonnet", cfg.API.Model)
	assert.Equal(t, 30, cfg.API.TimeoutSecs)
	assert.Equal(t, "dark", cfg.UI.Theme)
	assert.False(t, cfg.UI.Markdown)
	// Untouched sections keep defaults.
	assert.Equal(t, DefaultSystemPrompt, cfg.Chat.SystemPrompt)
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	t.Setenv("ANVIL_BASE_URL", "https://env.example.com/v1")
	t.Setenv("ANVIL_MODEL", "env/model")
	t.Setenv("ANVIL_TIMEOUT_SECS", "7")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com/v1", cfg.API.BaseURL)
	assert.Equal(t, "env/model", cfg.API.Model)
	assert.Equal(t, 7, cfg.API.TimeoutSecs)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.API.BaseURL = "" }},
		{"bad base url", func(c *Config) { c.API.BaseURL = "not a url" }},
		{"bad scheme", func(c *Config) { c.API.BaseURL = "ftp://example.com" }},
		{"zero timeout", func(c *Config) { c.API.TimeoutSecs = 0 }},
		{"empty model", func(c *Config) { c.API.Model = "" }},
		{"bad theme", func(c *Config) { c.UI.Theme = "solarized" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveTo_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := DefaultConfig()
	cfg.API.Key = "sk-or-roundtrip"
	cfg.API.Model = "openai/gpt-4o"
	cfg.Files.Workspace = "/tmp/work"
	require.NoError(t, cfg.SaveTo(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.API.Key, loaded.API.Key)
	assert.Equal(t, cfg.API.Model, loaded.API.Model)
	assert.Equal(t, cfg.Files.Workspace, loaded.Files.Workspace)
}
