// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the chat-completion transport client.
//
// The client speaks the OpenAI-compatible chat completions protocol:
// a JSON POST to {baseURL}/chat/completions, either as a single response
// or as a server-sent-event stream of "data:" lines terminated by a
// "data: [DONE]" sentinel.
//
// Streaming is pull-based: ChatStream returns a Stream whose Recv method
// yields one text delta at a time. A stream is finite and not restartable;
// retrying means issuing a fresh ChatStream call. Each client owns at most
// one in-flight request: starting a new request implicitly cancels the
// previous one. A per-request timeout (default 120s) is armed when the
// request starts and disarmed on every exit path.
//
// Failures are classified so callers can offer a targeted retry:
// ErrTimeout and ErrCancelled for deadline/cancellation, *APIError for
// non-2xx responses, and *ProtocolError for error envelopes embedded in
// the stream itself. Malformed stream lines are parse noise and are
// skipped silently.
package api
