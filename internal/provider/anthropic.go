package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/timvw/fallacy-patrol/internal/model"
)

// AnthropicClient sends prompts through the Anthropic Messages API.
// Works with both direct Anthropic API and Azure AI Foundry.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	log       *zap.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(cfg Config) *AnthropicClient {
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
	// One round trip per call; retries belong to the analyzer.
	opts = append(opts, option.WithMaxRetries(0))

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		log:       log,
	}
}

// Provider returns "anthropic".
func (c *AnthropicClient) Provider() string {
	return Anthropic
}

// Model returns the model name.
func (c *AnthropicClient) Model() string {
	return c.model
}

// SendPrompt sends the prompt as a single user message.
func (c *AnthropicClient) SendPrompt(ctx context.Context, prompt string) (*Completion, error) {
	ctx, gen := startGeneration(ctx, c.log, Anthropic, c.model, c.maxTokens, prompt)

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, gen.fail(statusError(Anthropic, apiErr.StatusCode, err))
		}
		return nil, gen.fail(transportError(Anthropic, err))
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		gen.succeed(nil)
		return nil, nil
	}

	completion := &Completion{
		Text:         text.String(),
		Model:        string(resp.Model),
		FinishReason: string(resp.StopReason),
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	gen.succeed(completion)
	return completion, nil
}
