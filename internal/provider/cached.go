package provider

import (
	"context"

	"go.uber.org/zap"

	"github.com/timvw/fallacy-patrol/internal/cache"
	ppotel "github.com/timvw/fallacy-patrol/internal/otel"
)

// Cached serves repeated prompts from a completion cache. Cache errors are
// logged and treated as misses; they never fail the call.
type Cached struct {
	Client
	store   cache.Cache
	metrics *ppotel.Metrics
	log     *zap.Logger
}

// WithCache wraps c with store. A nil store returns c unchanged.
func WithCache(c Client, store cache.Cache, metrics *ppotel.Metrics, log *zap.Logger) Client {
	if store == nil {
		return c
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cached{Client: c, store: store, metrics: metrics, log: log}
}

// SendPrompt returns the cached completion when present, otherwise
// delegates and caches non-empty successes.
func (c *Cached) SendPrompt(ctx context.Context, prompt string) (*Completion, error) {
	key := cache.Key(c.Provider(), c.Model(), prompt)

	text, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn("completion cache lookup failed", zap.Error(err))
	}
	if ok && text != "" {
		c.metrics.RecordCacheHit(ctx)
		return &Completion{Text: text, Model: c.Model(), Cached: true}, nil
	}
	c.metrics.RecordCacheMiss(ctx)

	completion, err := c.Client.SendPrompt(ctx, prompt)
	if err != nil || completion == nil {
		return completion, err
	}
	if err := c.store.Set(ctx, key, completion.Text); err != nil {
		c.log.Warn("completion cache store failed", zap.Error(err))
	}
	return completion, nil
}

// Invalidate drops the cached completion for prompt, e.g. after the parser
// rejected it.
func (c *Cached) Invalidate(ctx context.Context, prompt string) error {
	return c.store.Invalidate(ctx, cache.Key(c.Provider(), c.Model(), prompt))
}
