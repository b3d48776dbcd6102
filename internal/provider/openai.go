package provider

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/timvw/fallacy-patrol/internal/model"
)

// OpenAIClient sends prompts through the OpenAI Go SDK.
// Works with OpenAI, Azure OpenAI, and any OpenAI-compatible endpoint.
type OpenAIClient struct {
	client    openai.Client
	model     string
	maxTokens int64
	log       *zap.Logger
}

// NewOpenAIClient creates a new OpenAI SDK client.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	var opts []option.RequestOption

	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	for k, v := range cfg.ExtraHeaders {
		opts = append(opts, option.WithHeader(k, v))
	}
	opts = append(opts, option.WithMaxRetries(0))

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &OpenAIClient{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		log:       log,
	}
}

// Provider returns "openai".
func (c *OpenAIClient) Provider() string {
	return OpenAI
}

// Model returns the model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// SendPrompt sends the prompt as a single user message.
func (c *OpenAIClient) SendPrompt(ctx context.Context, prompt string) (*Completion, error) {
	ctx, gen := startGeneration(ctx, c.log, OpenAI, c.model, c.maxTokens, prompt)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(c.maxTokens),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, gen.fail(statusError(OpenAI, apiErr.StatusCode, err))
		}
		return nil, gen.fail(transportError(OpenAI, err))
	}

	if len(resp.Choices) == 0 {
		return nil, gen.fail(&Error{Kind: ErrEmptyResponse, Provider: OpenAI, Err: errors.New("no choices returned")})
	}

	text := resp.Choices[0].Message.Content
	if text == "" {
		gen.succeed(nil)
		return nil, nil
	}

	completion := &Completion{
		Text:         text,
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	gen.succeed(completion)
	return completion, nil
}
