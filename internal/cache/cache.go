// Package cache provides byte-level caching for rendered response bodies,
// such as the aggregated model catalog.
package cache

import (
	"context"
	"time"
)

// Cache stores marshalled response bodies keyed by endpoint.
type Cache interface {
	// Get retrieves a cached body by key.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores a body with the given TTL.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
	// Delete invalidates a key after a mutation staled it.
	Delete(ctx context.Context, key string)
}
