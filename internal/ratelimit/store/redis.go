package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/optiwave/telemetry-gateway/internal/observability"
)

// incrementWithExpiryScript increments the counter and sets the expiry only
// when the increment created the key. Running it as a single Lua script
// keeps the increment-and-expire pair atomic across concurrent clients.
var incrementWithExpiryScript = redis.NewScript(`
	local current = redis.call('INCRBY', KEYS[1], ARGV[1])
	if current == tonumber(ARGV[1]) then
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return current
`)

// RedisStore implements Store using Redis, shared across gateway instances.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	logger observability.Logger
}

// RedisStoreOption is a functional option for the Redis store.
type RedisStoreOption func(*RedisStore)

// WithRedisLogger sets the logger for the Redis store.
func WithRedisLogger(logger observability.Logger) RedisStoreOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

// NewRedisStore creates a Redis-backed counter store.
func NewRedisStore(client redis.UniversalClient, prefix string, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: prefix,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

// IncrementWithExpiry atomically increments the counter for key.
func (s *RedisStore) IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	result, err := incrementWithExpiryScript.Run(ctx, s.client,
		[]string{s.key(key)}, delta, expiration.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return result, nil
}

// Get returns the current counter value.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, s.key(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	return val, nil
}

// TTL returns the remaining lifetime of the key.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read counter ttl: %w", err)
	}
	// PTTL returns negative durations for absent keys and keys without
	// expiry; both mean "no window in progress" here.
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Delete removes the counter for key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete counter: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
