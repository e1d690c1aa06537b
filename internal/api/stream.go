// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// Stream chunk wire format
// ============================================================================

// streamChunk is one SSE event payload in a streaming completion.
type streamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// content returns the text delta carried by the chunk, if any.
func (c *streamChunk) content() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// finished reports whether the chunk carries a finish_reason.
func (c *streamChunk) finished() bool {
	return len(c.Choices) > 0 && c.Choices[0].FinishReason != ""
}

// ============================================================================
// Stream
// ============================================================================

// Stream is a pull-based reader over one streaming completion. Recv
// returns text deltas in order until io.EOF (clean termination) or a
// classified error. Streams are finite and single-use.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	reader *bufio.Reader

	mu      sync.Mutex
	done    bool
	termErr error
	sawEOF  bool
}

// ChatStream sends a streaming completion request. The returned Stream
// must be drained to io.EOF or closed; both paths disarm the request
// timeout and release the connection.
func (c *Client) ChatStream(ctx context.Context, messages []ChatMessage) (*Stream, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, mapErr(ctx, err)
	}

	rctx, release := c.begin(ctx)

	req, err := c.newRequest(rctx, messages, true)
	if err != nil {
		release()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	logRequest(req, c.Model(), len(messages))
	start := time.Now()
	resp, err := sharedStreamingClient.Do(req)
	if err != nil {
		release()
		return nil, mapErr(rctx, err)
	}
	logResponse(resp, time.Since(start))
	if resp.StatusCode != http.StatusOK {
		err := errorFromResponse(resp)
		resp.Body.Close()
		release()
		return nil, err
	}

	return &Stream{
		ctx:    rctx,
		cancel: release,
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
	}, nil
}

// Recv returns the next non-empty text delta. It returns io.EOF when the
// stream terminates cleanly via the "[DONE]" sentinel or connection end,
// *ProtocolError when the provider streams an error envelope, ErrTimeout
// when the request deadline fires mid-stream, and ErrCancelled when the
// stream was cancelled or superseded.
//
// Lines are parsed only once complete: a delta split across TCP reads is
// held in the buffer until its newline arrives. Lines that are not valid
// chunk JSON are skipped.
func (s *Stream) Recv() (string, error) {
	s.mu.Lock()
	if s.done {
		err := s.termErr
		s.mu.Unlock()
		return "", err
	}
	s.mu.Unlock()

	for {
		if err := s.ctx.Err(); err != nil {
			return s.fail(mapErr(s.ctx, err))
		}

		line, readErr := s.reader.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return s.fail(mapErr(s.ctx, readErr))
		}
		if readErr == io.EOF {
			// A trailing line without its newline is still parsed;
			// the next iteration observes sawEOF and finishes.
			s.mu.Lock()
			if s.sawEOF {
				s.mu.Unlock()
				return s.finish()
			}
			s.sawEOF = true
			s.mu.Unlock()
			if line == "" {
				return s.finish()
			}
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return s.finish()
		}

		// An embedded error envelope is a hard failure, unlike the
		// malformed-JSON noise below.
		var env errorEnvelope
		if json.Unmarshal([]byte(data), &env) == nil && env.Error != nil && env.Error.Message != "" {
			return s.fail(&ProtocolError{
				Code:    string(env.Error.Code),
				Message: env.Error.Message,
			})
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if content := chunk.content(); content != "" {
			return content, nil
		}
		if chunk.finished() {
			continue
		}
	}
}

// Close cancels the stream. Subsequent Recv calls return ErrCancelled
// unless the stream had already terminated. Close is idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	if !s.done {
		s.done = true
		s.termErr = fmt.Errorf("%w: stream closed", ErrCancelled)
	}
	s.mu.Unlock()
	s.cancel()
	return s.body.Close()
}

// finish marks clean termination, disarms the timeout and releases the
// connection.
func (s *Stream) finish() (string, error) {
	s.mu.Lock()
	if !s.done {
		s.done = true
		s.termErr = io.EOF
	}
	err := s.termErr
	s.mu.Unlock()
	s.cancel()
	s.body.Close()
	return "", err
}

// fail marks terminal failure with a classified error.
func (s *Stream) fail(err error) (string, error) {
	s.mu.Lock()
	if !s.done {
		s.done = true
		s.termErr = err
	}
	err = s.termErr
	s.mu.Unlock()
	s.cancel()
	s.body.Close()
	return "", err
}
