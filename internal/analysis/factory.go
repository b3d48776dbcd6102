package analysis

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/timvw/fallacy-patrol/internal/cache"
	ppotel "github.com/timvw/fallacy-patrol/internal/otel"
	"github.com/timvw/fallacy-patrol/internal/provider"
)

// ClientOptions decorates clients built by NewFactory.
type ClientOptions struct {
	// Cache serves repeated prompts. Nil disables caching.
	Cache cache.Cache
	// RateLimit is the maximum provider calls per second. Zero disables it.
	RateLimit float64
	Burst     int
	Metrics   *ppotel.Metrics
	Logger    *zap.Logger
}

// NewFactory returns a Factory that builds clients with provider.New and
// wraps them as WithCache(WithRateLimit(client)). Clients are reused per
// configuration so one rate limit spans all analyses using it.
func NewFactory(opts ClientOptions) Factory {
	var (
		mu      sync.Mutex
		clients = make(map[string]provider.Client)
	)
	return func(ctx context.Context, cfg provider.Config) (provider.Client, error) {
		key := strings.Join([]string{
			strings.ToLower(strings.TrimSpace(cfg.Provider)), cfg.Model, cfg.BaseURL, cfg.APIKey,
		}, "\x00")

		mu.Lock()
		defer mu.Unlock()
		if c, ok := clients[key]; ok {
			return c, nil
		}
		c, err := provider.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c = provider.WithRateLimit(c, opts.RateLimit, opts.Burst)
		c = provider.WithCache(c, opts.Cache, opts.Metrics, opts.Logger)
		clients[key] = c
		return c, nil
	}
}
