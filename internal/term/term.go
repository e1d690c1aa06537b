// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package term provides terminal capability detection for the anvil CLI.
//
// Detection covers TTY status for stdin/stdout, terminal width for text
// wrapping, and color output control. Color decisions respect the NO_COLOR
// convention (https://no-color.org/) so piped output and CI logs stay clean.
package term

import (
	"os"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	// DefaultWidth is the fallback width when detection fails.
	DefaultWidth = 80

	// MinWidth is the minimum width used for wrapping.
	MinWidth = 40
)

// IsStdinTTY returns true if stdin is a terminal.
// Interactive prompts require this.
func IsStdinTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsStdoutTTY returns true if stdout is a terminal.
// Colored output and markdown rendering require this.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Width returns the current terminal width, clamped to MinWidth,
// or DefaultWidth when detection fails.
func Width() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return DefaultWidth
	}
	if w < MinWidth {
		return MinWidth
	}
	return w
}

var (
	colorsEnabled     bool
	colorsEnabledOnce sync.Once
)

// ColorsEnabled returns true if colored output should be used.
// NO_COLOR disables colors regardless of TTY; FORCE_COLOR overrides
// TTY detection in the other direction.
func ColorsEnabled() bool {
	colorsEnabledOnce.Do(func() {
		if os.Getenv("NO_COLOR") != "" {
			colorsEnabled = false
			return
		}
		if os.Getenv("FORCE_COLOR") != "" {
			colorsEnabled = true
			return
		}
		colorsEnabled = IsStdoutTTY()
	})
	return colorsEnabled
}

// ColorProfile returns the termenv color profile to render with.
// Non-TTY output gets Ascii (no escape sequences).
func ColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}

// HasDarkBackground reports whether the terminal background is dark.
// Defaults to true when the terminal cannot be queried, matching the
// most common terminal themes.
func HasDarkBackground() bool {
	if !IsStdoutTTY() {
		return true
	}
	return termenv.HasDarkBackground()
}
