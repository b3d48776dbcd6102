package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/timvw/fallacy-patrol/internal/model"
)

// GeminiClient sends prompts to a hosted Gemini model through the genai SDK.
type GeminiClient struct {
	client    *genai.Client
	model     string
	maxTokens int64
	log       *zap.Logger
}

// NewGeminiClient creates a Gemini client. The SDK client is constructed
// eagerly so configuration errors surface before the first prompt.
func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.HTTPClient != nil {
		cc.HTTPClient = cfg.HTTPClient
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	if len(cfg.ExtraHeaders) > 0 {
		cc.HTTPOptions.Headers = http.Header{}
		for k, v := range cfg.ExtraHeaders {
			cc.HTTPOptions.Headers.Set(k, v)
		}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, unavailable(Gemini, fmt.Sprintf("create genai client: %v", err))
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &GeminiClient{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		log:       log,
	}, nil
}

// Provider returns "gemini".
func (c *GeminiClient) Provider() string {
	return Gemini
}

// Model returns the model name.
func (c *GeminiClient) Model() string {
	return c.model
}

// SendPrompt generates content for the prompt and concatenates the text
// parts of the first candidate.
func (c *GeminiClient) SendPrompt(ctx context.Context, prompt string) (*Completion, error) {
	ctx, gen := startGeneration(ctx, c.log, Gemini, c.model, c.maxTokens, prompt)

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		MaxOutputTokens:  int32(c.maxTokens),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, gen.fail(classifyGeminiError(err))
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, gen.fail(&Error{Kind: ErrEmptyResponse, Provider: Gemini, Err: errors.New("no candidates returned")})
	}

	candidate := resp.Candidates[0]
	var text strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part != nil && !part.Thought {
				text.WriteString(part.Text)
			}
		}
	}
	if text.Len() == 0 {
		gen.succeed(nil)
		return nil, nil
	}

	completion := &Completion{
		Text:         text.String(),
		Model:        c.model,
		FinishReason: string(candidate.FinishReason),
	}
	if resp.ModelVersion != "" {
		completion.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		completion.Usage = model.TokenUsage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	gen.succeed(completion)
	return completion, nil
}

// classifyGeminiError maps genai API errors onto the provider taxonomy.
// The SDK has returned APIError both by value and by pointer across versions.
func classifyGeminiError(err error) *Error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusError(Gemini, apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return statusError(Gemini, apiErrPtr.Code, err)
	}
	return transportError(Gemini, err)
}
