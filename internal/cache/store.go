package cache

import (
	"context"
	"time"
)

// Store is the key-value store behind the rendered-image cache.
// Implemented by the memory store (dev) and the Redis store (prod).
//
// Get reports a clean miss as (nil, false, nil). Callers treat any error
// as a miss: the cache is never a correctness dependency.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
