// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation holds the message history sent with each
// completion request.
//
// The system prompt is pinned at index 0 and survives clears. Turns are
// transactional: the user message is appended when the turn begins, and
// either committed together with the assistant reply or rolled back, so
// a failed turn leaves no half-recorded exchange to poison the next
// request.
package conversation

import (
	"errors"
	"sync"

	"github.com/jeranaias/anvil/internal/api"
)

// Role values for messages in the log.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrTurnInProgress indicates BeginTurn was called while an earlier
	// turn is still open.
	ErrTurnInProgress = errors.New("turn already in progress")

	// ErrNoTurn indicates Commit or Rollback was called with no open
	// turn.
	ErrNoTurn = errors.New("no turn in progress")

	// ErrEmptyReply indicates Commit was called with empty assistant
	// content.
	ErrEmptyReply = errors.New("empty assistant reply")
)

// Log is the conversation history. Safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	messages []api.ChatMessage
	open     bool
}

// New creates a log seeded with the given system prompt. The system
// message is pinned at index 0 even when the prompt is empty, so
// callers can rely on its position.
func New(systemPrompt string) *Log {
	return &Log{messages: []api.ChatMessage{api.NewSystemMessage(systemPrompt)}}
}

// SetSystemPrompt replaces the pinned system message content. An empty
// prompt keeps the message pinned with empty content.
func (l *Log) SetSystemPrompt(prompt string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hasSystem() {
		l.messages[0] = api.NewSystemMessage(prompt)
		return
	}
	l.messages = append([]api.ChatMessage{api.NewSystemMessage(prompt)}, l.messages...)
}

// SystemPrompt returns the pinned system message content, or "".
func (l *Log) SystemPrompt() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hasSystem() {
		return l.messages[0].Content
	}
	return ""
}

// BeginTurn appends the user message and returns a snapshot of the
// history to send, system prompt first. The turn stays open until
// Commit or Rollback.
func (l *Log) BeginTurn(userContent string) ([]api.ChatMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open {
		return nil, ErrTurnInProgress
	}
	l.open = true
	l.messages = append(l.messages, api.NewUserMessage(userContent))
	return l.snapshot(), nil
}

// Commit records the assistant reply and closes the turn. Empty content
// is rejected; the caller should roll back instead so the dangling user
// message does not skew the next request.
func (l *Log) Commit(assistantContent string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return ErrNoTurn
	}
	if assistantContent == "" {
		return ErrEmptyReply
	}
	l.messages = append(l.messages, api.NewAssistantMessage(assistantContent))
	l.open = false
	return nil
}

// Rollback removes the user message appended by BeginTurn and closes
// the turn, restoring the history to its pre-turn state.
func (l *Log) Rollback() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return ErrNoTurn
	}
	l.messages = l.messages[:len(l.messages)-1]
	l.open = false
	return nil
}

// TurnOpen reports whether a turn is awaiting Commit or Rollback.
func (l *Log) TurnOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// Clear drops all exchanges but keeps the pinned system message.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hasSystem() {
		l.messages = l.messages[:1]
	} else {
		l.messages = l.messages[:0]
	}
	l.open = false
}

// History returns a copy of the full message list.
func (l *Log) History() []api.ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot()
}

// Len returns the number of messages, including the system message.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// Replace swaps the entire history, preserving the current system
// prompt at index 0. Used when restoring a saved session.
func (l *Log) Replace(messages []api.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sys []api.ChatMessage
	if l.hasSystem() {
		sys = []api.ChatMessage{l.messages[0]}
	}
	l.messages = sys
	for _, m := range messages {
		if m.Role == RoleSystem {
			continue
		}
		l.messages = append(l.messages, m)
	}
	l.open = false
}

func (l *Log) hasSystem() bool {
	return len(l.messages) > 0 && l.messages[0].Role == RoleSystem
}

func (l *Log) snapshot() []api.ChatMessage {
	out := make([]api.ChatMessage, len(l.messages))
	copy(out, l.messages)
	return out
}
