package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process cache with per-entry expiry.
type Memory struct {
	cache *gocache.Cache
}

// NewMemory creates a memory cache whose entries expire after ttl.
func NewMemory(ttl time.Duration) *Memory {
	cleanup := ttl * 2
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &Memory{cache: gocache.New(ttl, cleanup)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	if val, found := m.cache.Get(key); found {
		s, ok := val.(string)
		return s, ok, nil
	}
	return "", false, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.cache.SetDefault(key, value)
	return nil
}

func (m *Memory) Invalidate(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

// Len returns the number of entries, including expired ones not yet evicted.
func (m *Memory) Len() int {
	return m.cache.ItemCount()
}

func (m *Memory) Close() error {
	m.cache.Flush()
	return nil
}
