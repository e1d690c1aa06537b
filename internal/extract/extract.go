// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package extract pulls file blocks out of streamed assistant replies.
//
// A file block is a fenced code block whose info string names a target
// path:
//
//	```go:cmd/main.go
//	package main
//	```
//
// The extractor is a single-pass incremental scanner fed arbitrary text
// deltas. Results are invariant under how the text is split: feeding a
// reply one byte at a time yields the same artifacts as feeding it
// whole. Plain fences without a path are left alone.
package extract

import (
	"regexp"
	"strings"
)

// ============================================================================
// Artifacts
// ============================================================================

// FileArtifact is one extracted file block.
type FileArtifact struct {
	// Filename is the path from the fence info string, as written by
	// the model. Not yet resolved against the workspace.
	Filename string

	// Language is the fence language tag.
	Language string

	// Content is the block body, trimmed of leading and trailing
	// whitespace.
	Content string

	// IsNew reports whether the target did not exist when the artifact
	// was materialized. Set by the file layer, not the extractor.
	IsNew bool
}

// ============================================================================
// Extractor
// ============================================================================

type scanState int

const (
	stateScanning scanState = iota
	stateCapturing
)

// lookbackLimit bounds how much already-scanned text is retained while
// searching for an opening fence. An opener longer than the window is
// missed; its text then reads as prose, which is the cheaper failure.
const lookbackLimit = 256

// openerRe matches an opening fence with a language tag and a target
// path separated by a colon. Line-start anchoring is checked by
// findOpener, which knows whether position 0 of the window is a true
// line start; a multiline ^ anchor cannot tell after the window has
// been trimmed.
var openerRe = regexp.MustCompile("```" + `([A-Za-z0-9_+.#-]+):([^` + "`" + `\n]+)\n`)

// Extractor scans streamed text for file blocks. Not safe for
// concurrent use; each streaming turn owns one extractor.
//
// Memory is proportional to the largest single block: while scanning,
// only the lookback window is retained, and while capturing, only the
// current block body.
type Extractor struct {
	state scanState
	scan  string
	body  []byte
	lang  string
	path  string

	// midLine records that position 0 of the scan window falls inside a
	// line, either because the window was trimmed or because scanning
	// resumed right after a closing fence. An opener at position 0 is
	// then inline text, not a fence.
	midLine bool

	onOpen func(language, filename string)
}

// NewExtractor returns an extractor in the scanning state.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// OnBlockOpen registers a hook invoked when an opening fence is
// recognized, before any of the block body has arrived. Used by the
// display layer to announce the incoming file.
func (e *Extractor) OnBlockOpen(fn func(language, filename string)) {
	e.onOpen = fn
}

// InBlock reports whether the extractor is inside an unterminated
// block.
func (e *Extractor) InBlock() bool {
	return e.state == stateCapturing
}

// Feed consumes the next text delta and returns any file blocks that
// completed within it. Text after a closing fence is rescanned, so
// several blocks may close in one call.
func (e *Extractor) Feed(delta string) []FileArtifact {
	var out []FileArtifact
	rest := delta
	for {
		switch e.state {
		case stateScanning:
			e.scan += rest
			rest = ""
			loc := e.findOpener()
			if loc == nil {
				e.trimScan()
				return out
			}
			e.lang = e.scan[loc[2]:loc[3]]
			e.path = strings.TrimSpace(e.scan[loc[4]:loc[5]])
			rest = e.scan[loc[1]:]
			e.scan = ""
			e.body = e.body[:0]
			e.state = stateCapturing
			if e.onOpen != nil {
				e.onOpen(e.lang, e.path)
			}

		case stateCapturing:
			e.body = append(e.body, rest...)
			rest = ""
			idx := findClosingFence(e.body)
			if idx < 0 {
				return out
			}
			out = append(out, e.emit(idx))
			rest = string(e.body[idx+3:])
			e.reset()
			// The remainder begins on the closing fence's own line.
			e.midLine = true
		}
	}
}

// Flush ends the stream. An unterminated block is emitted with whatever
// body has accumulated, so a reply cut off mid-file still yields its
// partial artifact.
func (e *Extractor) Flush() []FileArtifact {
	if e.state != stateCapturing {
		e.reset()
		return nil
	}
	art := e.emit(len(e.body))
	e.reset()
	return []FileArtifact{art}
}

// Reset discards all scanner state. Called when a turn is cancelled so
// a half-open block cannot leak into the next turn.
func (e *Extractor) Reset() {
	e.reset()
	e.scan = ""
}

func (e *Extractor) emit(end int) FileArtifact {
	return FileArtifact{
		Filename: e.path,
		Language: e.lang,
		Content:  strings.TrimSpace(string(e.body[:end])),
	}
}

func (e *Extractor) reset() {
	e.state = stateScanning
	e.scan = ""
	e.body = e.body[:0]
	e.lang = ""
	e.path = ""
	e.midLine = false
}

// findOpener returns the first opener match that actually starts a
// line: either position 0 of an untrimmed window, or any position
// preceded by a newline.
func (e *Extractor) findOpener() []int {
	for _, loc := range openerRe.FindAllStringSubmatchIndex(e.scan, -1) {
		if loc[0] == 0 {
			if !e.midLine {
				return loc
			}
			continue
		}
		if e.scan[loc[0]-1] == '\n' {
			return loc
		}
	}
	return nil
}

// trimScan bounds the scan window to lookbackLimit bytes. The cut is
// pulled forward to the next newline when one exists, so position 0 of
// the window stays a real line boundary; a window that is one long
// line keeps midLine set instead.
func (e *Extractor) trimScan() {
	if len(e.scan) <= lookbackLimit {
		return
	}
	cut := len(e.scan) - lookbackLimit
	if i := strings.IndexByte(e.scan[cut:], '\n'); i >= 0 {
		e.scan = e.scan[cut+i:]
		e.midLine = false
	} else {
		e.scan = e.scan[cut:]
		e.midLine = true
	}
}

// findClosingFence returns the offset of a closing fence at the start
// of a line, or -1. A fence whose final backticks have not arrived yet
// is simply not found; the next delta completes it.
func findClosingFence(b []byte) int {
	for i := 0; i+3 <= len(b); i++ {
		if b[i] == '`' && b[i+1] == '`' && b[i+2] == '`' && (i == 0 || b[i-1] == '\n') {
			return i
		}
	}
	return -1
}
