// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fileops

import (
	"fmt"
	"strings"
)

// ============================================================================
// Line diff
// ============================================================================

// ChangeKind classifies one line of a diff.
type ChangeKind int

const (
	// Context is an unchanged line.
	Context ChangeKind = iota
	// Added is a line present only in the new content.
	Added
	// Removed is a line present only in the old content.
	Removed
)

// Prefix returns the unified-diff marker for the kind.
func (k ChangeKind) Prefix() string {
	switch k {
	case Added:
		return "+"
	case Removed:
		return "-"
	default:
		return " "
	}
}

// Line is a single diff line.
type Line struct {
	Kind ChangeKind
	Text string
}

// DiffLines computes a line diff between old and new content using an
// LCS alignment. Unchanged lines appear as context.
func DiffLines(oldContent, newContent string) []Line {
	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	if len(oldLines) == 0 {
		out := make([]Line, 0, len(newLines))
		for _, l := range newLines {
			out = append(out, Line{Kind: Added, Text: l})
		}
		return out
	}
	if len(newLines) == 0 {
		out := make([]Line, 0, len(oldLines))
		for _, l := range oldLines {
			out = append(out, Line{Kind: Removed, Text: l})
		}
		return out
	}

	lcs := longestCommonSubsequence(oldLines, newLines)
	var out []Line
	oi, ni, li := 0, 0, 0
	for oi < len(oldLines) || ni < len(newLines) {
		switch {
		case li < len(lcs) && oi < len(oldLines) && ni < len(newLines) &&
			oldLines[oi] == lcs[li] && newLines[ni] == lcs[li]:
			out = append(out, Line{Kind: Context, Text: oldLines[oi]})
			oi++
			ni++
			li++
		case oi < len(oldLines) && (li >= len(lcs) || oldLines[oi] != lcs[li]):
			out = append(out, Line{Kind: Removed, Text: oldLines[oi]})
			oi++
		default:
			out = append(out, Line{Kind: Added, Text: newLines[ni]})
			ni++
		}
	}
	return out
}

// DiffStat returns the number of added and removed lines.
func DiffStat(lines []Line) (added, removed int) {
	for _, l := range lines {
		switch l.Kind {
		case Added:
			added++
		case Removed:
			removed++
		}
	}
	return added, removed
}

// FormatDiff renders a diff with unified-style prefixes, eliding long
// runs of context. maxContext bounds how many context lines surround
// each change; negative keeps everything.
func FormatDiff(lines []Line, maxContext int) string {
	var sb strings.Builder
	if maxContext < 0 {
		for _, l := range lines {
			sb.WriteString(l.Kind.Prefix())
			sb.WriteString(l.Text)
			sb.WriteByte('\n')
		}
		return sb.String()
	}

	keep := make([]bool, len(lines))
	for i, l := range lines {
		if l.Kind == Context {
			continue
		}
		lo := i - maxContext
		if lo < 0 {
			lo = 0
		}
		hi := i + maxContext
		if hi >= len(lines) {
			hi = len(lines) - 1
		}
		for j := lo; j <= hi; j++ {
			keep[j] = true
		}
	}

	elided := 0
	for i, l := range lines {
		if !keep[i] {
			elided++
			continue
		}
		if elided > 0 {
			fmt.Fprintf(&sb, "  ... %d unchanged lines ...\n", elided)
			elided = 0
		}
		sb.WriteString(l.Kind.Prefix())
		sb.WriteString(l.Text)
		sb.WriteByte('\n')
	}
	if elided > 0 {
		fmt.Fprintf(&sb, "  ... %d unchanged lines ...\n", elided)
	}
	return sb.String()
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func longestCommonSubsequence(a, b []string) []string {
	m, n := len(a), len(b)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	out := make([]string, 0, dp[m][n])
	for i, j := m, n; i > 0 && j > 0; {
		switch {
		case a[i-1] == b[j-1]:
			out = append(out, a[i-1])
			i--
			j--
		case dp[i-1][j] >= dp[i][j-1]:
			i--
		default:
			j--
		}
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}
