package endpoint

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAI calls the chat completions API.
type OpenAI struct {
	TokenEstimator

	client      *openai.Client
	model       string
	maxTokens   int
	temperature *float64
	jsonMode    bool
}

// NewOpenAI creates an OpenAI adapter.
func NewOpenAI(cfg ModelConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for openai")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required for openai")
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

	client := openai.NewClient(opts...)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &OpenAI{
		TokenEstimator: NewModelEstimator(cfg.Model),
		client:         &client,
		model:          cfg.Model,
		maxTokens:      maxTokens,
		temperature:    cfg.Temperature,
		jsonMode:       cfg.JSONResponse,
	}, nil
}

// Call implements Endpoint.
func (p *OpenAI) Call(ctx context.Context, payload Payload) (*Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(payload.Messages))
	for _, m := range payload.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:     shared.ChatModel(p.model),
		Messages:  messages,
		MaxTokens: openai.Int(int64(p.maxTokens)),
	}
	if p.temperature != nil {
		params.Temperature = openai.Float(*p.temperature)
	}
	if p.jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, Classify(ProviderOpenAI, err)
	}
	if len(resp.Choices) == 0 {
		return nil, Failed(ProviderOpenAI, 0, "response has no choices", nil)
	}

	return &Response{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		Model:            resp.Model,
	}, nil
}
