// Package cache stores raw provider completions keyed by a hash of the
// provider, model and prompt, so identical passages are not re-sent.
//
// A TTL of 0 disables caching. Cached completions go through the parser
// again, so a cache hit never bypasses validation.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"
)

// Cache is a completion store.
type Cache interface {
	// Get returns the cached completion text and whether it was found.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores a completion text.
	Set(ctx context.Context, key, value string) error
	// Invalidate removes a single entry.
	Invalidate(ctx context.Context, key string) error
	Close() error
}

// Key returns the cache key for a prompt sent to provider/model.
func Key(provider, model, prompt string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", provider, model)
	h.Write([]byte(prompt))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Config selects and configures a cache backend.
type Config struct {
	// Backend is "memory" or "redis".
	Backend string
	TTL     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// New returns the configured backend, or nil when caching is disabled.
func New(cfg Config) (Cache, error) {
	if cfg.TTL <= 0 {
		return nil, nil
	}
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.TTL), nil
	case "redis":
		return NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TTL, cfg.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown cache backend %q (supported: memory, redis)", cfg.Backend)
	}
}
