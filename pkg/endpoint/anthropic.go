package endpoint

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic calls the messages API.
type Anthropic struct {
	TokenEstimator

	client      *anthropic.Client
	model       string
	maxTokens   int
	temperature *float64
}

// NewAnthropic creates an Anthropic adapter.
func NewAnthropic(cfg ModelConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for anthropic")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required for anthropic")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}

	client := anthropic.NewClient(opts...)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &Anthropic{
		TokenEstimator: NewModelEstimator(cfg.Model),
		client:         &client,
		model:          cfg.Model,
		maxTokens:      maxTokens,
		temperature:    cfg.Temperature,
	}, nil
}

// Call implements Endpoint.
func (p *Anthropic) Call(ctx context.Context, payload Payload) (*Response, error) {
	messages := make([]anthropic.MessageParam, 0, len(payload.Messages))
	for _, m := range payload.Messages {
		switch m.Role {
		case RoleSystem:
			// sent separately
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages:  messages,
	}
	if system := payload.System(); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if p.temperature != nil {
		params.Temperature = anthropic.Float(*p.temperature)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, Classify(ProviderAnthropic, err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &Response{
		Content:          content.String(),
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		Model:            string(resp.Model),
	}, nil
}
