// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/jeranaias/anvil/internal/config"
)

// =============================================================================
// LINE INPUT
// =============================================================================

// Input provides line editing and persistent history for the chat
// prompt. Arrow keys navigate history; Ctrl-C at the prompt aborts the
// current line rather than the program.
type Input struct {
	line        *liner.State
	historyFile string
}

// NewInput creates the line editor and loads saved history.
func NewInput() *Input {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	in := &Input{
		line:        line,
		historyFile: filepath.Join(configDir, "history"),
	}
	in.loadHistory()
	return in
}

// ReadLine prompts for one line. Returns liner.ErrPromptAborted on
// Ctrl-C and io.EOF on Ctrl-D.
func (in *Input) ReadLine(prompt string) (string, error) {
	input, err := in.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		in.line.AppendHistory(input)
	}
	return input, nil
}

// Confirm asks a yes/no question, defaulting to no.
func (in *Input) Confirm(question string) bool {
	answer, err := in.line.Prompt(question + " [y/N] ")
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// Close saves history and restores the terminal.
func (in *Input) Close() {
	in.saveHistory()
	in.line.Close()
}

func (in *Input) loadHistory() {
	if f, err := os.Open(in.historyFile); err == nil {
		in.line.ReadHistory(f)
		f.Close()
	}
}

func (in *Input) saveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	in.line.WriteHistory(f)
}
