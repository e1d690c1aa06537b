// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"errors"
	"testing"

	"github.com/jeranaias/anvil/internal/api"
)

func TestSystemPromptPinnedFirst(t *testing.T) {
	l := New("be helpful")
	msgs, err := l.BeginTurn("hi")
	if err != nil {
		t.Fatalf("BeginTurn() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("snapshot has %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != RoleSystem || msgs[0].Content != "be helpful" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Role != RoleUser || msgs[1].Content != "hi" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
}

func TestCommitAppendsExactlyTwo(t *testing.T) {
	l := New("sys")
	before := l.Len()

	if _, err := l.BeginTurn("question"); err != nil {
		t.Fatalf("BeginTurn() error = %v", err)
	}
	if err := l.Commit("answer"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if got := l.Len(); got != before+2 {
		t.Errorf("Len() = %d, want %d", got, before+2)
	}
	h := l.History()
	if h[len(h)-2].Role != RoleUser || h[len(h)-1].Role != RoleAssistant {
		t.Errorf("tail roles = %s, %s", h[len(h)-2].Role, h[len(h)-1].Role)
	}
}

func TestRollbackRestoresHistory(t *testing.T) {
	l := New("sys")
	if _, err := l.BeginTurn("first"); err != nil {
		t.Fatal(err)
	}
	if err := l.Commit("reply"); err != nil {
		t.Fatal(err)
	}
	before := l.History()

	if _, err := l.BeginTurn("doomed"); err != nil {
		t.Fatal(err)
	}
	if err := l.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	after := l.History()
	if len(after) != len(before) {
		t.Fatalf("Len after rollback = %d, want %d", len(after), len(before))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("message %d changed: %+v vs %+v", i, before[i], after[i])
		}
	}
}

func TestCommitEmptyRejected(t *testing.T) {
	l := New("sys")
	if _, err := l.BeginTurn("q"); err != nil {
		t.Fatal(err)
	}
	if err := l.Commit(""); !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("Commit(\"\") error = %v, want ErrEmptyReply", err)
	}
	// Turn stays open for the rollback path.
	if !l.TurnOpen() {
		t.Error("turn closed after rejected commit")
	}
	if err := l.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

func TestNestedBeginTurnRejected(t *testing.T) {
	l := New("sys")
	if _, err := l.BeginTurn("one"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.BeginTurn("two"); !errors.Is(err, ErrTurnInProgress) {
		t.Fatalf("second BeginTurn() error = %v, want ErrTurnInProgress", err)
	}
}

func TestCommitWithoutTurn(t *testing.T) {
	l := New("sys")
	if err := l.Commit("x"); !errors.Is(err, ErrNoTurn) {
		t.Errorf("Commit() error = %v, want ErrNoTurn", err)
	}
	if err := l.Rollback(); !errors.Is(err, ErrNoTurn) {
		t.Errorf("Rollback() error = %v, want ErrNoTurn", err)
	}
}

func TestClearKeepsSystemPrompt(t *testing.T) {
	l := New("sys")
	l.BeginTurn("q")
	l.Commit("a")
	l.Clear()

	if l.Len() != 1 {
		t.Fatalf("Len() after Clear = %d, want 1", l.Len())
	}
	if l.SystemPrompt() != "sys" {
		t.Errorf("SystemPrompt() = %q", l.SystemPrompt())
	}
}

func TestEmptySystemPromptStillPinned(t *testing.T) {
	l := New("")
	msgs, err := l.BeginTurn("hi")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("snapshot has %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != RoleSystem || msgs[0].Content != "" {
		t.Errorf("msgs[0] = %+v, want empty system message", msgs[0])
	}
	if msgs[1].Role != RoleUser || msgs[1].Content != "hi" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
}

func TestSetSystemPromptEmptyKeepsPin(t *testing.T) {
	l := New("old")
	l.SetSystemPrompt("")
	h := l.History()
	if len(h) != 1 || h[0].Role != RoleSystem || h[0].Content != "" {
		t.Errorf("history = %+v, want one empty system message", h)
	}
}

func TestSetSystemPromptReplaces(t *testing.T) {
	l := New("old")
	l.BeginTurn("q")
	l.Commit("a")
	l.SetSystemPrompt("new")

	h := l.History()
	if h[0].Role != RoleSystem || h[0].Content != "new" {
		t.Errorf("h[0] = %+v", h[0])
	}
	if len(h) != 3 {
		t.Errorf("Len() = %d, want 3", len(h))
	}
}

func TestReplacePreservesSystem(t *testing.T) {
	l := New("mine")
	l.Replace([]api.ChatMessage{
		api.NewSystemMessage("theirs"),
		api.NewUserMessage("q"),
		api.NewAssistantMessage("a"),
	})
	h := l.History()
	if len(h) != 3 {
		t.Fatalf("Len() = %d, want 3", len(h))
	}
	if h[0].Content != "mine" {
		t.Errorf("system prompt = %q, want %q", h[0].Content, "mine")
	}
	if h[1].Role != RoleUser || h[2].Role != RoleAssistant {
		t.Errorf("roles = %s, %s", h[1].Role, h[2].Role)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	l := New("sys")
	h := l.History()
	h[0].Content = "mutated"
	if l.SystemPrompt() != "sys" {
		t.Error("History() exposed internal state")
	}
}
