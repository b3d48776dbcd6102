package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/timvw/fallacy-patrol/internal/model"
)

// DefaultChatBaseURL is the endpoint used by the chat client when no base
// URL is configured. "/chat/completions" is appended.
const DefaultChatBaseURL = "https://api.openai.com/v1"

const maxChatResponseBytes = 4 << 20

// ChatClient talks to any OpenAI-compatible /chat/completions endpoint with a
// plain HTTP POST.
type ChatClient struct {
	baseURL      string
	apiKey       string
	model        string
	maxTokens    int64
	extraHeaders map[string]string
	httpClient   *http.Client
	log          *zap.Logger
}

// NewChatClient creates an HTTP chat-completion client.
func NewChatClient(cfg Config) *ChatClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultChatBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatClient{
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		extraHeaders: cfg.ExtraHeaders,
		httpClient:   httpClient,
		log:          log,
	}
}

// Provider returns "chat".
func (c *ChatClient) Provider() string {
	return Chat
}

// Model returns the model name.
func (c *ChatClient) Model() string {
	return c.model
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int64         `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse uses pointers so absent fields are distinguishable from
// empty ones.
type chatResponse struct {
	ID      string        `json:"id"`
	Model   string        `json:"model"`
	Choices *[]chatChoice `json:"choices"`
	Usage   *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

type chatChoice struct {
	Message *struct {
		Content *string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// SendPrompt posts the prompt as a single user message.
func (c *ChatClient) SendPrompt(ctx context.Context, prompt string) (*Completion, error) {
	ctx, gen := startGeneration(ctx, c.log, Chat, c.model, c.maxTokens, prompt)

	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return nil, gen.fail(&Error{Kind: ErrTransport, Provider: Chat, Err: fmt.Errorf("marshal chat request: %w", err)})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, gen.fail(&Error{Kind: ErrTransport, Provider: Chat, Err: fmt.Errorf("create chat request: %w", err)})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range c.extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, gen.fail(transportError(Chat, err))
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxChatResponseBytes))
	if err != nil {
		return nil, gen.fail(transportError(Chat, fmt.Errorf("read chat response: %w", err)))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, gen.fail(statusError(Chat, resp.StatusCode, errors.New(truncate(string(respBytes), 512))))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBytes, &chatResp); err != nil {
		return nil, gen.fail(&Error{Kind: ErrMalformedResponse, Provider: Chat, StatusCode: resp.StatusCode, Err: err})
	}
	if chatResp.Choices == nil {
		return nil, gen.fail(&Error{Kind: ErrMalformedResponse, Provider: Chat, StatusCode: resp.StatusCode, Err: errors.New("choices missing")})
	}
	if len(*chatResp.Choices) == 0 {
		return nil, gen.fail(&Error{Kind: ErrEmptyResponse, Provider: Chat, StatusCode: resp.StatusCode, Err: errors.New("no choices returned")})
	}
	first := (*chatResp.Choices)[0]
	if first.Message == nil || first.Message.Content == nil {
		return nil, gen.fail(&Error{Kind: ErrMalformedResponse, Provider: Chat, StatusCode: resp.StatusCode, Err: errors.New("choices[0].message.content missing")})
	}

	if *first.Message.Content == "" {
		gen.succeed(nil)
		return nil, nil
	}

	completion := &Completion{
		Text:         *first.Message.Content,
		Model:        chatResp.Model,
		FinishReason: first.FinishReason,
	}
	if completion.Model == "" {
		completion.Model = c.model
	}
	if chatResp.Usage != nil {
		completion.Usage = model.TokenUsage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
		}
	}
	gen.succeed(completion)
	return completion, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
