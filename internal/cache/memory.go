package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
)

// entry carries a cached body and the instant it stops being servable.
// Expiry is tracked per entry because callers pass their own TTLs; the
// otter-level TTL only bounds how long dead entries occupy the cache.
type entry struct {
	body      []byte
	expiresAt time.Time
}

// Memory is an in-memory W-TinyLFU cache backed by otter.
type Memory struct {
	cache *otter.Cache[string, entry]
}

// NewMemory creates an in-memory cache holding at most maxEntries bodies,
// evicted defaultTTL after their last write.
func NewMemory(maxEntries int, defaultTTL time.Duration) (*Memory, error) {
	c, err := otter.New(&otter.Options[string, entry]{
		MaximumSize:      maxEntries,
		ExpiryCalculator: otter.ExpiryWriting[string, entry](defaultTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Memory{cache: c}, nil
}

// Get returns the body stored under key, dropping it if its TTL has passed.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	e, ok := m.cache.GetIfPresent(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		m.cache.Invalidate(key)
		return nil, false
	}
	return e.body, true
}

// Set stores a body under key for ttl.
func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	m.cache.Set(key, entry{
		body:      val,
		expiresAt: time.Now().Add(ttl),
	})
}

// Delete invalidates key.
func (m *Memory) Delete(_ context.Context, key string) {
	m.cache.Invalidate(key)
}
