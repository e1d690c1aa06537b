// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/anvil/internal/fileops"
	"github.com/jeranaias/anvil/internal/term"
	"github.com/jeranaias/anvil/internal/ui/styles"
)

// =============================================================================
// OUTPUT RENDERING
// =============================================================================

// Renderer formats replies, diffs and artifacts for the terminal,
// degrading to plain text on pipes and NO_COLOR terminals.
type Renderer struct {
	out       io.Writer
	theme     *styles.Theme
	markdown  bool
	highlight bool
}

// NewRenderer builds a renderer for stdout with the given theme.
// Markdown re-rendering and syntax highlighting only apply when stdout
// is a TTY.
func NewRenderer(theme *styles.Theme, markdown, highlight bool) *Renderer {
	tty := term.IsStdoutTTY()
	return &Renderer{
		out:       os.Stdout,
		theme:     theme,
		markdown:  markdown && tty,
		highlight: highlight && tty && term.ColorsEnabled(),
	}
}

// Print writes plain text.
func (r *Renderer) Print(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// Info writes a dimmed informational line.
func (r *Renderer) Info(format string, args ...any) {
	fmt.Fprintln(r.out, r.theme.Dim.Render(fmt.Sprintf(format, args...)))
}

// Error writes an error line.
func (r *Renderer) Error(format string, args ...any) {
	fmt.Fprintln(r.out, r.theme.ErrorText.Render(fmt.Sprintf(format, args...)))
}

// Success writes a confirmation line.
func (r *Renderer) Success(format string, args ...any) {
	fmt.Fprintln(r.out, r.theme.Success.Render(fmt.Sprintf(format, args...)))
}

// Reply re-renders a completed reply as markdown. The raw text already
// streamed; this replaces nothing, it prints the pretty form after a
// separator. Falls back to no-op when markdown is off.
func (r *Renderer) Reply(text string) {
	if !r.markdown {
		return
	}
	width := term.Width()
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(r.theme.GlamourStyle()),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return
	}
	pretty, err := renderer.Render(text)
	if err != nil {
		return
	}
	fmt.Fprintln(r.out, r.theme.Dim.Render(strings.Repeat("─", width)))
	fmt.Fprint(r.out, pretty)
}

// Code prints source with syntax highlighting when enabled.
func (r *Renderer) Code(source, language string) {
	if r.highlight {
		if err := quick.Highlight(r.out, source, language, "terminal256", r.theme.ChromaStyle()); err == nil {
			if !strings.HasSuffix(source, "\n") {
				fmt.Fprintln(r.out)
			}
			return
		}
	}
	fmt.Fprintln(r.out, source)
}

// Diff prints a file plan: header, then the colored line diff with
// long context runs elided.
func (r *Renderer) Diff(plan *fileops.Plan) {
	fmt.Fprintln(r.out, r.theme.FileHeader.Render(plan.Summary()))
	if plan.IsNew() {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(fileops.FormatDiff(plan.Changes, 2), "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			fmt.Fprintln(r.out, r.theme.DiffAdd.Render(line))
		case strings.HasPrefix(line, "-"):
			fmt.Fprintln(r.out, r.theme.DiffDel.Render(line))
		default:
			fmt.Fprintln(r.out, r.theme.DiffMeta.Render(line))
		}
	}
}

// SetTheme swaps the color theme at runtime.
func (r *Renderer) SetTheme(theme *styles.Theme) {
	r.theme = theme
}

// Theme returns the active theme.
func (r *Renderer) Theme() *styles.Theme {
	return r.theme
}
