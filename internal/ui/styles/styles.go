// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling for anvil's terminal
// output. It detects the terminal's color capability and degrades to
// plain text when colors are unavailable.
package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/jeranaias/anvil/internal/term"
)

// Theme holds the styles used across the CLI.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	// Prompt and chrome
	Prompt    lipgloss.Style
	Banner    lipgloss.Style
	Dim       lipgloss.Style
	ErrorText lipgloss.Style
	Warning   lipgloss.Style
	Success   lipgloss.Style

	// Artifact presentation
	FileHeader lipgloss.Style
	DiffAdd    lipgloss.Style
	DiffDel    lipgloss.Style
	DiffMeta   lipgloss.Style
}

// Palette names for the /theme command.
const (
	ThemeDark  = "dark"
	ThemeLight = "light"
	ThemeAuto  = "auto"
)

// New builds a theme for the requested palette. ThemeAuto follows the
// terminal background; when colors are disabled every style is a
// no-op.
func New(name string) *Theme {
	t := &Theme{ColorProfile: term.ColorProfile()}

	switch name {
	case ThemeDark:
		t.IsDark = true
	case ThemeLight:
		t.IsDark = false
	default:
		t.IsDark = term.HasDarkBackground()
	}

	if !term.ColorsEnabled() {
		// Zero-value styles render text unchanged.
		return t
	}

	accent := lipgloss.Color("12")
	muted := lipgloss.Color("8")
	if !t.IsDark {
		accent = lipgloss.Color("4")
		muted = lipgloss.Color("7")
	}

	t.Prompt = lipgloss.NewStyle().Foreground(accent).Bold(true)
	t.Banner = lipgloss.NewStyle().Foreground(accent)
	t.Dim = lipgloss.NewStyle().Foreground(muted)
	t.ErrorText = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	t.Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	t.Success = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))

	t.FileHeader = lipgloss.NewStyle().Foreground(accent).Bold(true).Underline(true)
	t.DiffAdd = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	t.DiffDel = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	t.DiffMeta = lipgloss.NewStyle().Foreground(muted)
	return t
}

// GlamourStyle maps the theme to a glamour standard style name.
func (t *Theme) GlamourStyle() string {
	if !term.ColorsEnabled() {
		return "notty"
	}
	if t.IsDark {
		return "dark"
	}
	return "light"
}

// ChromaStyle maps the theme to a chroma style name for syntax
// highlighting.
func (t *Theme) ChromaStyle() string {
	if t.IsDark {
		return "monokai"
	}
	return "github"
}
