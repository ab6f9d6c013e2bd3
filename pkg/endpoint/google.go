package endpoint

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Google calls the Gemini GenerateContent API.
type Google struct {
	TokenEstimator

	client      *genai.Client
	model       string
	maxTokens   int32
	temperature *float64
	jsonMode    bool
	timeout     time.Duration

	// GenerativeModel carries the system instruction, so one is kept per
	// distinct system prompt instead of mutating a shared value.
	mu     sync.Mutex
	models map[string]*genai.GenerativeModel
}

// NewGoogle creates a Gemini adapter. Close releases the client.
func NewGoogle(ctx context.Context, cfg ModelConfig) (*Google, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for google")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required for google")
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &Google{
		TokenEstimator: NewModelEstimator(cfg.Model),
		client:         client,
		model:          cfg.Model,
		maxTokens:      int32(maxTokens),
		temperature:    cfg.Temperature,
		jsonMode:       cfg.JSONResponse,
		timeout:        cfg.RequestTimeout,
		models:         make(map[string]*genai.GenerativeModel),
	}, nil
}

// Close closes the underlying client.
func (p *Google) Close() error {
	return p.client.Close()
}

func (p *Google) generativeModel(system string) *genai.GenerativeModel {
	p.mu.Lock()
	defer p.mu.Unlock()

	if m, ok := p.models[system]; ok {
		return m
	}

	m := p.client.GenerativeModel(p.model)
	maxTokens := p.maxTokens
	m.MaxOutputTokens = &maxTokens
	if p.temperature != nil {
		m.SetTemperature(float32(*p.temperature))
	}
	if p.jsonMode {
		m.ResponseMIMEType = "application/json"
	}
	if system != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}
	p.models[system] = m
	return m
}

// requestContext bounds ctx by the configured request timeout. The genai
// client has no per-request timeout option.
func (p *Google) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

// Call implements Endpoint.
func (p *Google) Call(ctx context.Context, payload Payload) (*Response, error) {
	ctx, cancel := p.requestContext(ctx)
	defer cancel()

	model := p.generativeModel(payload.System())

	var parts []genai.Part
	for _, m := range payload.Messages {
		if m.Role == RoleSystem {
			continue
		}
		parts = append(parts, genai.Text(m.Content))
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, Classify(ProviderGoogle, err)
	}

	result := &Response{Model: p.model}
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		var content strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if text, ok := part.(genai.Text); ok {
				content.WriteString(string(text))
			}
		}
		result.Content = content.String()
	}
	if resp.UsageMetadata != nil {
		result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}
