// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// deltaEvent builds one SSE data line carrying a content delta.
func deltaEvent(content string) string {
	payload, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"delta": map[string]string{"content": content}},
		},
	})
	return fmt.Sprintf("data: %s\n\n", payload)
}

// rawServer streams the given wire segments verbatim, flushing between
// each so segment boundaries become real network chunk boundaries.
func rawServer(t *testing.T, segments []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer does not support flushing")
			return
		}
		for _, seg := range segments {
			if _, err := io.WriteString(w, seg); err != nil {
				return
			}
			fl.Flush()
		}
	}))
}

// drain collects all deltas from a stream until a terminal condition.
func drain(s *Stream) (string, error) {
	var sb strings.Builder
	for {
		delta, err := s.Recv()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(delta)
	}
}

func streamClient(srv *httptest.Server) *Client {
	return NewClient("test-key").WithBaseURL(srv.URL).WithModel("test/model")
}

func TestChatStreamDeltas(t *testing.T) {
	srv := rawServer(t, []string{
		deltaEvent("Hello"),
		deltaEvent(", "),
		deltaEvent("world"),
		"data: [DONE]\n\n",
	})
	defer srv.Close()

	s, err := streamClient(srv).ChatStream(context.Background(), []ChatMessage{NewUserMessage("hi")})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	got, err := drain(s)
	if err != nil {
		t.Fatalf("drain() error = %v", err)
	}
	if got != "Hello, world" {
		t.Errorf("got %q, want %q", got, "Hello, world")
	}
}

func TestChatStreamSplitInvariance(t *testing.T) {
	wire := deltaEvent("The quick ") + deltaEvent("brown fox\njumps") + deltaEvent(" over") + "data: [DONE]\n\n"
	want := "The quick brown fox\njumps over"

	// Every split width must reassemble to the same text, including
	// widths that cut a data line or the DONE sentinel in half.
	for _, width := range []int{1, 3, 7, 16, len(wire)} {
		t.Run(fmt.Sprintf("width=%d", width), func(t *testing.T) {
			var segments []string
			for i := 0; i < len(wire); i += width {
				end := i + width
				if end > len(wire) {
					end = len(wire)
				}
				segments = append(segments, wire[i:end])
			}
			srv := rawServer(t, segments)
			defer srv.Close()

			s, err := streamClient(srv).ChatStream(context.Background(), nil)
			if err != nil {
				t.Fatalf("ChatStream() error = %v", err)
			}
			got, err := drain(s)
			if err != nil {
				t.Fatalf("drain() error = %v", err)
			}
			if got != want {
				t.Errorf("got %q, want %q", got, want)
			}
		})
	}
}

func TestChatStreamSkipsParseNoise(t *testing.T) {
	srv := rawServer(t, []string{
		deltaEvent("before"),
		"data: {this is not json\n\n",
		": sse comment line\n",
		"data: \n\n",
		deltaEvent("after"),
		"data: [DONE]\n\n",
	})
	defer srv.Close()

	s, err := streamClient(srv).ChatStream(context.Background(), nil)
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	got, err := drain(s)
	if err != nil {
		t.Fatalf("drain() error = %v", err)
	}
	if got != "beforeafter" {
		t.Errorf("got %q, want %q", got, "beforeafter")
	}
}

func TestChatStreamErrorEnvelope(t *testing.T) {
	srv := rawServer(t, []string{
		deltaEvent("partial"),
		`data: {"error":{"code":502,"message":"upstream unavailable"}}` + "\n\n",
	})
	defer srv.Close()

	s, err := streamClient(srv).ChatStream(context.Background(), nil)
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	got, err := drain(s)
	if got != "partial" {
		t.Errorf("deltas before envelope = %q, want %q", got, "partial")
	}
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *ProtocolError", err)
	}
	if perr.Message != "upstream unavailable" {
		t.Errorf("message = %q", perr.Message)
	}
	if perr.Code != "502" {
		t.Errorf("code = %q, want 502", perr.Code)
	}
}

func TestChatStreamEndsWithoutSentinel(t *testing.T) {
	// Connection end after complete events is a clean termination, and
	// a trailing line missing its newline is still parsed.
	srv := rawServer(t, []string{
		deltaEvent("first"),
		strings.TrimSuffix(deltaEvent("last"), "\n\n"),
	})
	defer srv.Close()

	s, err := streamClient(srv).ChatStream(context.Background(), nil)
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	got, err := drain(s)
	if err != nil {
		t.Fatalf("drain() error = %v", err)
	}
	if got != "firstlast" {
		t.Errorf("got %q, want %q", got, "firstlast")
	}
}

func TestChatStreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, `{"error":{"message":"bad gateway"}}`)
	}))
	defer srv.Close()

	_, err := streamClient(srv).ChatStream(context.Background(), nil)
	var aerr *APIError
	if !errors.As(err, &aerr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if aerr.Status != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", aerr.Status)
	}
	if !strings.Contains(aerr.Error(), "bad gateway") {
		t.Errorf("error message %q missing body detail", aerr.Error())
	}
}

func TestChatStreamRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := streamClient(srv).ChatStream(context.Background(), nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
	var rerr *RateLimitError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want *RateLimitError", err)
	}
	if rerr.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %s, want 30s", rerr.RetryAfter)
	}
}

func TestChatStreamTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		io.WriteString(w, deltaEvent("stuck"))
		fl.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := streamClient(srv).WithTimeout(100 * time.Millisecond)
	s, err := c.ChatStream(context.Background(), nil)
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}

	delta, err := s.Recv()
	if err != nil || delta != "stuck" {
		t.Fatalf("first Recv() = %q, %v", delta, err)
	}
	_, err = s.Recv()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error after deadline = %v, want ErrTimeout", err)
	}
	if !Retryable(err) {
		t.Error("timeout should be retryable")
	}
}

func TestChatStreamCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		io.WriteString(w, deltaEvent("one"))
		fl.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s, err := streamClient(srv).ChatStream(ctx, nil)
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	if _, err := s.Recv(); err != nil {
		t.Fatalf("first Recv() error = %v", err)
	}

	cancel()
	_, err = s.Recv()
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("error after cancel = %v, want ErrCancelled", err)
	}
}

func TestChatStreamCloseThenRecv(t *testing.T) {
	srv := rawServer(t, []string{deltaEvent("x"), "data: [DONE]\n\n"})
	defer srv.Close()

	s, err := streamClient(srv).ChatStream(context.Background(), nil)
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := s.Recv(); !errors.Is(err, ErrCancelled) {
		t.Errorf("Recv() after Close = %v, want ErrCancelled", err)
	}
}

func TestChatStreamNewRequestCancelsPrevious(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		io.WriteString(w, deltaEvent("held"))
		fl.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := streamClient(srv)
	first, err := c.ChatStream(context.Background(), nil)
	if err != nil {
		t.Fatalf("first ChatStream() error = %v", err)
	}
	if _, err := first.Recv(); err != nil {
		t.Fatalf("first Recv() error = %v", err)
	}

	second, err := c.ChatStream(context.Background(), nil)
	if err != nil {
		t.Fatalf("second ChatStream() error = %v", err)
	}
	defer second.Close()

	if _, err := first.Recv(); !errors.Is(err, ErrCancelled) {
		t.Errorf("superseded stream Recv() = %v, want ErrCancelled", err)
	}
}

func TestChatStreamScenario(t *testing.T) {
	// One reply carrying a fenced file block, delivered in three
	// arbitrary chunks, must reassemble byte for byte.
	reply := "Sure!\n```python:hello.py\nprint(\"hi\")\n```\nDone."
	wire := deltaEvent(reply[:12]) + deltaEvent(reply[12:31]) + deltaEvent(reply[31:]) + "data: [DONE]\n\n"

	srv := rawServer(t, []string{wire[:20], wire[20:47], wire[47:]})
	defer srv.Close()

	s, err := streamClient(srv).ChatStream(context.Background(), nil)
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	got, err := drain(s)
	if err != nil {
		t.Fatalf("drain() error = %v", err)
	}
	if got != reply {
		t.Errorf("got %q, want %q", got, reply)
	}
}
