// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session orchestrates one chat turn end to end: append the
// user message, stream the reply, fan deltas to the display and the
// block extractor, then commit or roll back the conversation.
package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/jeranaias/anvil/internal/api"
	"github.com/jeranaias/anvil/internal/conversation"
	"github.com/jeranaias/anvil/internal/extract"
)

// ErrBusy indicates RunTurn was called while another turn is in flight.
var ErrBusy = errors.New("a turn is already in flight")

// ErrEmptyReply indicates the stream terminated cleanly but produced no
// content. The turn is rolled back; retrying is reasonable.
var ErrEmptyReply = errors.New("model returned an empty reply")

// Session drives turns against one conversation. Safe for concurrent
// use; overlapping RunTurn calls beyond the first fail with ErrBusy.
type Session struct {
	client    *api.Client
	log       *conversation.Log
	extractor *extract.Extractor

	onDelta func(string)

	mu         sync.Mutex
	busy       bool
	lastPrompt string
}

// New creates a session over the given client and conversation log.
func New(client *api.Client, log *conversation.Log) *Session {
	return &Session{
		client:    client,
		log:       log,
		extractor: extract.NewExtractor(),
	}
}

// OnDelta registers the display sink. Every text delta is forwarded to
// it as it arrives, including deltas from turns that later fail, so the
// user sees what streamed before the failure.
func (s *Session) OnDelta(fn func(delta string)) {
	s.onDelta = fn
}

// OnBlockOpen registers a hook for the moment a file block's opening
// fence is recognized mid-stream.
func (s *Session) OnBlockOpen(fn func(language, filename string)) {
	s.extractor.OnBlockOpen(fn)
}

// RunTurn sends prompt as the next user message and streams the reply.
// On success the assistant message is committed and any extracted file
// artifacts are returned. On any failure, including cancellation,
// timeout and an empty reply, the user message is rolled back and no
// artifacts are returned.
func (s *Session) RunTurn(ctx context.Context, prompt string) ([]extract.FileArtifact, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.busy = true
	s.lastPrompt = prompt
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	messages, err := s.log.BeginTurn(prompt)
	if err != nil {
		return nil, err
	}

	stream, err := s.client.ChatStream(ctx, messages)
	if err != nil {
		s.log.Rollback()
		return nil, err
	}

	s.extractor.Reset()
	var reply strings.Builder
	var artifacts []extract.FileArtifact
	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.abort()
			return nil, err
		}
		reply.WriteString(delta)
		artifacts = append(artifacts, s.extractor.Feed(delta)...)
		if s.onDelta != nil {
			s.onDelta(delta)
		}
	}

	text := reply.String()
	if strings.TrimSpace(text) == "" {
		s.abort()
		return nil, ErrEmptyReply
	}
	artifacts = append(artifacts, s.extractor.Flush()...)

	if err := s.log.Commit(text); err != nil {
		s.abort()
		return nil, err
	}
	return artifacts, nil
}

// Retry reruns the last prompt. Meaningful after a retryable failure;
// the rolled-back history makes the rerun identical to the original.
func (s *Session) Retry(ctx context.Context) ([]extract.FileArtifact, error) {
	s.mu.Lock()
	prompt := s.lastPrompt
	s.mu.Unlock()
	if prompt == "" {
		return nil, errors.New("nothing to retry")
	}
	return s.RunTurn(ctx, prompt)
}

// Cancel aborts the in-flight request, if any. The running RunTurn
// observes the cancellation, rolls back and returns ErrCancelled.
func (s *Session) Cancel() {
	s.client.CancelCurrent()
}

// Busy reports whether a turn is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// LastPrompt returns the most recent prompt, for retry display.
func (s *Session) LastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPrompt
}

// Log exposes the underlying conversation log.
func (s *Session) Log() *conversation.Log {
	return s.log
}

// abort rolls the open turn back and clears half-captured extractor
// state so nothing leaks into the next turn.
func (s *Session) abort() {
	s.log.Rollback()
	s.extractor.Reset()
}
