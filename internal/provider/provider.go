// Package provider sends a rendered prompt to a hosted language model and
// returns its text completion.
//
// All variants implement Client and report failures as *Error wrapping one of
// the package sentinels. A client performs exactly one network round trip per
// SendPrompt call and never retries.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/timvw/fallacy-patrol/internal/model"
)

// Provider names accepted by New.
const (
	Gemini    = "gemini"
	Anthropic = "anthropic"
	OpenAI    = "openai"
	Chat      = "chat"
)

// Kind groups providers by how they are reached.
type Kind string

const (
	// KindNativeSDK providers are called through the vendor's Go SDK.
	KindNativeSDK Kind = "native_sdk"
	// KindHTTPChat providers are called with a plain chat-completions POST.
	KindHTTPChat Kind = "http_chat"
)

var kinds = map[string]Kind{
	Gemini:    KindNativeSDK,
	Anthropic: KindNativeSDK,
	OpenAI:    KindNativeSDK,
	Chat:      KindHTTPChat,
}

var defaultModels = map[string]string{
	Gemini:    "gemini-2.5-pro",
	Anthropic: "claude-sonnet-4-5",
	OpenAI:    "gpt-4o-mini",
	Chat:      "gpt-4o-mini",
}

// Client sends a prompt and returns the model's completion.
type Client interface {
	// SendPrompt performs one round trip. It returns (nil, nil) when the
	// provider reported success with empty content.
	SendPrompt(ctx context.Context, prompt string) (*Completion, error)

	// Provider returns the provider name (e.g., "gemini", "chat").
	Provider() string

	// Model returns the model name used for generation.
	Model() string
}

// Invalidator is implemented by clients that can forget a cached completion.
type Invalidator interface {
	Invalidate(ctx context.Context, prompt string) error
}

// Completion is the text returned by a provider.
type Completion struct {
	Text         string
	Model        string
	FinishReason string
	Usage        model.TokenUsage
	// Cached is set when the completion was served from the response cache.
	Cached bool
}

// Config selects a provider and its credential for one invocation.
type Config struct {
	// Provider is one of Gemini, Anthropic, OpenAI or Chat.
	Provider string
	// Model is the model name. Empty selects the provider default.
	Model string
	// APIKey is required for every provider.
	APIKey string
	// BaseURL overrides the provider endpoint.
	BaseURL string
	// MaxTokens caps output tokens. Zero selects 4096.
	MaxTokens int64
	// ExtraHeaders are additional HTTP headers (e.g., "api-key" for Azure).
	ExtraHeaders map[string]string
	// HTTPClient is used by the chat and gemini variants. Nil uses a default client.
	HTTPClient *http.Client
	// Logger receives diagnostic records of prompts and responses.
	Logger *zap.Logger
}

// Names returns the supported provider names, sorted.
func Names() []string {
	names := make([]string, 0, len(kinds))
	for n := range kinds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// KindOf returns the kind of the named provider.
func KindOf(name string) (Kind, bool) {
	k, ok := kinds[name]
	return k, ok
}

// DefaultModel returns the model used when Config.Model is empty.
func DefaultModel(name string) string {
	return defaultModels[name]
}

// New builds the client selected by cfg. A missing credential or an
// unknown provider yields an *Error wrapping ErrUnavailable.
func New(ctx context.Context, cfg Config) (Client, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if _, ok := kinds[name]; !ok {
		return nil, unavailable(name, fmt.Sprintf("unknown provider %q (supported: %s)", cfg.Provider, strings.Join(Names(), ", ")))
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, unavailable(name, "no API key configured")
	}
	cfg.Provider = name
	if cfg.Model == "" {
		cfg.Model = defaultModels[name]
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	switch name {
	case Gemini:
		return NewGeminiClient(ctx, cfg)
	case Anthropic:
		return NewAnthropicClient(cfg), nil
	case OpenAI:
		return NewOpenAIClient(cfg), nil
	default:
		return NewChatClient(cfg), nil
	}
}
