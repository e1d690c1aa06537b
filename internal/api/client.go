// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ============================================================================
// Constants
// ============================================================================

const (
	// DefaultBaseURL is the OpenRouter-compatible API endpoint.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultModel routes to whatever the provider considers best.
	DefaultModel = "openrouter/auto"

	// DefaultTimeout bounds a whole request, including the full lifetime
	// of a stream. It is disarmed as soon as the request finishes.
	DefaultTimeout = 120 * time.Second

	// MaxResponseSize caps how much of a non-streaming response body we
	// will read (10MB).
	MaxResponseSize = 10 * 1024 * 1024

	// MaxErrorBodySize caps how much of an error response body we keep
	// for diagnostics.
	MaxErrorBodySize = 64 * 1024

	userAgent = "anvil/1.0"
)

// ============================================================================
// Shared HTTP clients
// ============================================================================

// sharedClient serves one-shot requests. Connection pooling is shared
// across all Client instances.
var sharedClient = &http.Client{
	Timeout: DefaultTimeout,
	Transport: &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// sharedStreamingClient has no client-level timeout. Streams are bounded
// by the per-request context deadline instead, so a slow but live stream
// is not killed mid-read.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrTimeout indicates the request did not complete within the
	// configured timeout. Retryable.
	ErrTimeout = errors.New("request timed out")

	// ErrCancelled indicates the request was cancelled, either explicitly
	// or because a newer request superseded it. Retryable.
	ErrCancelled = errors.New("request cancelled")

	// ErrRateLimited indicates the provider returned HTTP 429.
	ErrRateLimited = errors.New("rate limited")
)

// APIError is a non-2xx HTTP response from the provider.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("api error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("api error: HTTP %d: %s", e.Status, body)
}

// ProtocolError is an error envelope delivered inside an otherwise
// successful response or stream. It is a hard failure, not parse noise.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

// RateLimitError is an HTTP 429 with an optional Retry-After hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Retryable reports whether a turn that failed with err is worth
// retrying as-is. Timeouts, cancellations and rate limits qualify;
// protocol and auth failures do not.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrCancelled) ||
		errors.Is(err, ErrRateLimited)
}

// ============================================================================
// Wire types
// ============================================================================

// ChatMessage is a single message in a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage creates a user-role message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// NewAssistantMessage creates an assistant-role message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: content}
}

// NewSystemMessage creates a system-role message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// ChatRequest is the chat completions request body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// ChatResponse is the non-streaming chat completions response body.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Content returns the first choice's message content.
func (r *ChatResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// ModelInfo describes one model offered by the provider.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ContextLen  int    `json:"context_length"`
}

// errorEnvelope is the provider's error object, embedded either in a
// non-2xx body or in a stream event.
type errorEnvelope struct {
	Error *struct {
		Code    errorCode `json:"code"`
		Message string    `json:"message"`
	} `json:"error"`
}

// errorCode tolerates both string and numeric codes; providers disagree
// on the wire type.
type errorCode string

func (c *errorCode) UnmarshalJSON(b []byte) error {
	var s string
	if json.Unmarshal(b, &s) == nil {
		*c = errorCode(s)
		return nil
	}
	var n json.Number
	if json.Unmarshal(b, &n) == nil {
		*c = errorCode(n.String())
	}
	return nil
}

// ============================================================================
// Client
// ============================================================================

// Client talks to one chat completions endpoint. A Client is safe for
// concurrent use, but holds at most one request in flight: issuing a new
// request cancels any previous one still running.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	limiter     *rate.Limiter

	mu            sync.Mutex
	reqSeq        uint64
	currentID     uint64
	cancelCurrent context.CancelFunc
}

// NewClient creates a client with defaults. An empty apiKey sends no
// Authorization header, which local proxies accept.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		timeout: DefaultTimeout,
		limiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 4),
	}
}

// WithBaseURL overrides the API endpoint.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// WithModel sets the model identifier.
func (c *Client) WithModel(model string) *Client {
	c.model = model
	return c
}

// WithTimeout sets the per-request timeout. Non-positive values keep
// the default.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// WithMaxTokens caps the completion length. Zero means provider default.
func (c *Client) WithMaxTokens(n int) *Client {
	c.maxTokens = n
	return c
}

// WithTemperature sets the sampling temperature.
func (c *Client) WithTemperature(t float64) *Client {
	c.temperature = t
	return c
}

// SetModel changes the model for subsequent requests.
func (c *Client) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// CancelCurrent cancels the in-flight request, if any.
func (c *Client) CancelCurrent() {
	c.mu.Lock()
	cancel := c.cancelCurrent
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// begin arms the per-request timeout and registers the request as the
// client's current one, cancelling whatever was in flight before. The
// returned cancel disarms the timeout and deregisters the request; it
// is safe to call more than once.
func (c *Client) begin(ctx context.Context) (context.Context, context.CancelFunc) {
	c.mu.Lock()
	if c.cancelCurrent != nil {
		c.cancelCurrent()
	}
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	c.reqSeq++
	id := c.reqSeq
	c.currentID = id
	c.cancelCurrent = cancel
	c.mu.Unlock()

	release := func() {
		cancel()
		c.mu.Lock()
		if c.currentID == id {
			c.cancelCurrent = nil
		}
		c.mu.Unlock()
	}
	return rctx, release
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
}

// logRequest records an outgoing request. Headers and bodies stay out
// of the log; they carry the key and the conversation.
func logRequest(req *http.Request, model string, messages int) {
	log.Printf("API Request: %s %s model=%s messages=%d", req.Method, req.URL.Path, model, messages)
}

// logResponse records status and duration only.
func logResponse(resp *http.Response, duration time.Duration) {
	log.Printf("API Response: %s (%v)", resp.Status, duration)
}

// mapErr classifies a transport failure using the request context, so
// deadline and cancellation surface as the sentinel errors callers
// match on.
func mapErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: no response before deadline", ErrTimeout)
	case errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled):
		return ErrCancelled
	default:
		return fmt.Errorf("request failed: %w", err)
	}
}

// newRequest builds and marshals a chat completions POST.
func (c *Client) newRequest(ctx context.Context, messages []ChatMessage, stream bool) (*http.Request, error) {
	c.mu.Lock()
	model := c.model
	c.mu.Unlock()

	body := ChatRequest{
		Model:       model,
		Messages:    messages,
		Stream:      stream,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	return req, nil
}

// Chat sends a non-streaming completion request and returns the
// assistant's reply text.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", mapErr(ctx, err)
	}

	rctx, release := c.begin(ctx)
	defer release()

	req, err := c.newRequest(rctx, messages, false)
	if err != nil {
		return "", err
	}

	logRequest(req, c.Model(), len(messages))
	start := time.Now()
	resp, err := sharedClient.Do(req)
	if err != nil {
		return "", mapErr(rctx, err)
	}
	defer resp.Body.Close()
	logResponse(resp, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return "", errorFromResponse(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return "", mapErr(rctx, err)
	}

	var parsed ChatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", &ProtocolError{Message: "response contained no choices"}
	}
	return parsed.Content(), nil
}

// ListModels fetches the provider's model catalog.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := sharedClient.Do(req)
	if err != nil {
		return nil, mapErr(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp)
	}

	var parsed struct {
		Data []ModelInfo `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseSize)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	return parsed.Data, nil
}

// errorFromResponse turns a non-2xx response into a typed error,
// consuming up to MaxErrorBodySize of the body for context.
func errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))

	if resp.StatusCode == http.StatusTooManyRequests {
		var retryAfter time.Duration
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{RetryAfter: retryAfter}
	}

	// Prefer the provider's structured message when the body carries one.
	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error != nil && env.Error.Message != "" {
		return &APIError{Status: resp.StatusCode, Body: env.Error.Message}
	}
	return &APIError{Status: resp.StatusCode, Body: string(body)}
}
