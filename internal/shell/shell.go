// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package shell runs materialized script artifacts through the
// interpreter their extension implies. Execution is always explicit
// and confirmed by the user; nothing extracted from a reply runs on
// its own.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoInterpreter indicates the file extension maps to no known
// interpreter.
var ErrNoInterpreter = errors.New("no interpreter for file type")

// DefaultTimeout bounds a run unless the caller's context is tighter.
const DefaultTimeout = 60 * time.Second

// outputLimit caps captured combined output.
const outputLimit = 64 * 1024

// interpreters maps file extensions to the command that runs them.
var interpreters = map[string][]string{
	".py":  {"python3"},
	".sh":  {"bash"},
	".js":  {"node"},
	".ts":  {"npx", "tsx"},
	".rb":  {"ruby"},
	".pl":  {"perl"},
	".go":  {"go", "run"},
	".lua": {"lua"},
}

// Result captures one run.
type Result struct {
	Command  string
	Output   string
	ExitCode int
	Duration time.Duration
	// Truncated reports whether Output hit the capture limit.
	Truncated bool
}

// CommandFor returns the argv prefix that runs the given file, without
// executing anything. Lets the caller show the user exactly what will
// run before confirming.
func CommandFor(path string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	argv, ok := interpreters[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoInterpreter, ext)
	}
	out := make([]string, len(argv), len(argv)+1)
	copy(out, argv)
	return append(out, path), nil
}

// Run executes the file in dir and captures combined output. A non-zero
// exit is reported in the Result, not as an error; errors mean the run
// could not happen at all.
func Run(ctx context.Context, dir, path string) (*Result, error) {
	argv, err := CommandFor(path)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	runErr := cmd.Run()
	res := &Result{
		Command:  strings.Join(argv, " "),
		Duration: time.Since(start),
	}

	out := buf.Bytes()
	if len(out) > outputLimit {
		out = out[:outputLimit]
		res.Truncated = true
	}
	res.Output = string(out)

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		case ctx.Err() != nil:
			return nil, fmt.Errorf("run %s: %w", filepath.Base(path), ctx.Err())
		default:
			return nil, fmt.Errorf("run %s: %w", filepath.Base(path), runErr)
		}
	}
	return res, nil
}
