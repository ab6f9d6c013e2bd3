// Package testutil provides testing utilities for narrative-blueprint.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockLLMBehavior configures how the mock answers.
type MockLLMBehavior struct {
	// ThrottleFirst answers the first N requests with 429.
	ThrottleFirst int

	// ThrottleAll answers every request with 429.
	ThrottleAll bool

	// FailStatus, when non-zero, answers every request with that status.
	FailStatus int

	// Delay is slept before answering.
	Delay time.Duration

	// Content is the assistant message. ContentFunc, when set, wins and
	// receives the last user message of the request.
	Content     string
	ContentFunc func(userMessage string) string

	PromptTokens     int
	CompletionTokens int
}

// MockLLM is an httptest server speaking the OpenAI chat completions and
// Anthropic messages wire formats.
type MockLLM struct {
	server *httptest.Server

	mu            sync.Mutex
	behavior      MockLLMBehavior
	requestCount  int
	throttled     int
	inFlight      int
	maxInFlight   int
	lastUserInput string
}

// NewMockLLM creates a new mock LLM server answering `{"status":"ok"}`.
func NewMockLLM() *MockLLM {
	mock := &MockLLM{
		behavior: MockLLMBehavior{
			Content:          `{"status":"ok"}`,
			PromptTokens:     12,
			CompletionTokens: 8,
		},
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockLLM) URL() string {
	return m.server.URL
}

// OpenAIBaseURL returns a base URL for the OpenAI SDK.
func (m *MockLLM) OpenAIBaseURL() string {
	return m.server.URL + "/v1/"
}

// AnthropicBaseURL returns a base URL for the Anthropic SDK.
func (m *MockLLM) AnthropicBaseURL() string {
	return m.server.URL + "/"
}

// Close shuts down the mock server.
func (m *MockLLM) Close() {
	m.server.Close()
}

// SetBehavior replaces the response behaviour.
func (m *MockLLM) SetBehavior(b MockLLMBehavior) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.behavior = b
}

// Reset clears all tracking counters.
func (m *MockLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.throttled = 0
	m.maxInFlight = 0
	m.lastUserInput = ""
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockLLM) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// GetThrottledCount returns the number of 429 answers sent.
func (m *MockLLM) GetThrottledCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.throttled
}

// GetMaxInFlight returns the highest number of concurrently served requests.
func (m *MockLLM) GetMaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// GetLastUserInput returns the last user message received.
func (m *MockLLM) GetLastUserInput() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUserInput
}

type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// text flattens string or content-block message bodies.
func (w wireMessage) text() string {
	var s string
	if err := json.Unmarshal(w.Content, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(w.Content, &blocks); err == nil {
		var b strings.Builder
		for _, bl := range blocks {
			b.WriteString(bl.Text)
		}
		return b.String()
	}
	return ""
}

func (m *MockLLM) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req struct {
		Model    string        `json:"model"`
		Messages []wireMessage `json:"messages"`
	}
	_ = json.Unmarshal(body, &req)

	var userInput string
	for _, msg := range req.Messages {
		if msg.Role == "user" {
			userInput = msg.text()
		}
	}

	m.mu.Lock()
	m.requestCount++
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	m.lastUserInput = userInput
	b := m.behavior
	throttle := b.ThrottleAll || m.requestCount <= b.ThrottleFirst
	if throttle {
		m.throttled++
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if b.Delay > 0 {
		time.Sleep(b.Delay)
	}

	anthropicWire := strings.HasSuffix(r.URL.Path, "/messages")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case throttle:
		writeError(w, anthropicWire, http.StatusTooManyRequests, "rate_limit_error", "Rate limit reached for requests")
		return
	case b.FailStatus != 0:
		writeError(w, anthropicWire, b.FailStatus, "invalid_request_error", "Request failed")
		return
	}

	content := b.Content
	if b.ContentFunc != nil {
		content = b.ContentFunc(userInput)
	}

	if anthropicWire {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":          "msg_mock",
			"type":        "message",
			"role":        "assistant",
			"model":       req.Model,
			"content":     []map[string]any{{"type": "text", "text": content}},
			"stop_reason": "end_turn",
			"usage": map[string]any{
				"input_tokens":  b.PromptTokens,
				"output_tokens": b.CompletionTokens,
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      "chatcmpl-mock",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{
			"prompt_tokens":     b.PromptTokens,
			"completion_tokens": b.CompletionTokens,
			"total_tokens":      b.PromptTokens + b.CompletionTokens,
		},
	})
}

func writeError(w http.ResponseWriter, anthropicWire bool, status int, errType, message string) {
	if anthropicWire {
		writeJSON(w, status, map[string]any{
			"type":  "error",
			"error": map[string]any{"type": errType, "message": message},
		})
		return
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": message, "type": errType, "code": errType},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
