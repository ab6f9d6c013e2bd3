// Package endpoint defines the remote inference capability used by the
// dispatcher and provides adapters for the OpenAI, Anthropic and Google
// chat APIs.
//
// Adapters never retry on their own. Every error they return is an *Error
// so the dispatcher can tell throttling (retry with backoff) from other
// failures (abandon).
package endpoint

import (
	"context"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Payload is the opaque request body of a task.
type Payload struct {
	Messages []Message `json:"messages"`
}

// System returns the concatenated system messages.
func (p Payload) System() string {
	var out string
	for _, m := range p.Messages {
		if m.Role != RoleSystem {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += m.Content
	}
	return out
}

// Response is the result of a successful call.
type Response struct {
	Content          string `json:"content"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	Model            string `json:"model"`
}

// Endpoint is a remote inference service.
type Endpoint interface {
	// EstimateTokens returns the expected prompt tokens of p.
	EstimateTokens(p Payload) int

	// Call performs one request. Errors are *Error values.
	Call(ctx context.Context, p Payload) (*Response, error)
}

// Providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// ModelConfig selects and configures an adapter.
type ModelConfig struct {
	Provider string
	Model    string
	APIKey   string

	// BaseURL overrides the API endpoint (proxies, compatible servers, tests).
	BaseURL string

	// Temperature is sent when non-nil.
	Temperature *float64

	// MaxTokens caps completion tokens. Required by Anthropic; default 1024.
	MaxTokens int

	// JSONResponse requests a JSON object response where the API supports it.
	JSONResponse bool

	// RequestTimeout bounds a single HTTP request. Zero means no timeout.
	RequestTimeout time.Duration
}

// DefaultMaxTokens is used when ModelConfig.MaxTokens is zero.
const DefaultMaxTokens = 1024
