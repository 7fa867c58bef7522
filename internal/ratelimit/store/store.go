// Package store provides counter storage backends for rate limiting.
package store

import (
	"context"
	"time"
)

// Store is an atomic counter store with per-key expiry. Counters are
// created with a TTL on first increment; the TTL is never extended by
// later increments, which is what gives each key a fixed window anchored
// at its first request.
type Store interface {
	// IncrementWithExpiry atomically increments the counter for key by
	// delta, setting the expiry only when the key is created. It returns
	// the post-increment value.
	IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error)

	// Get returns the current counter value, or 0 if the key is absent.
	Get(ctx context.Context, key string) (int64, error)

	// TTL returns the remaining lifetime of the key, or 0 if the key is
	// absent or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Delete removes the counter for key.
	Delete(ctx context.Context, key string) error

	// Close releases store resources.
	Close() error
}
