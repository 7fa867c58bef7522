// Package querycache provides a process-local response cache that
// coalesces concurrent identical computations and serves HTTP conditional
// requests.
package querycache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/optiwave/telemetry-gateway/internal/observability"
)

// defaultMaxEntries bounds cache memory when no limit is configured.
const defaultMaxEntries = 10000

// tracerName identifies spans emitted by this package.
const tracerName = "querycache"

// ComputeFunc produces the value for a cache key.
type ComputeFunc func(ctx context.Context) (any, error)

// entry is a cached value with its precomputed ETag and expiry deadline.
type entry struct {
	value     any
	etag      string
	expiresAt time.Time
}

// Cache coalesces concurrent computations per key and serves results from
// a bounded TTL store. It is per-instance state and a pure optimization:
// entries expire on TTL and the cache is never a source of truth.
//
// Errors are never cached. If a computation fails, every caller coalesced
// onto it receives the same error, and the next call after the in-flight
// settles computes again.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
	maxSize int
	logger  observability.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option is a functional option for the cache.
type Option func(*Cache)

// WithLogger sets the logger for the cache.
func WithLogger(logger observability.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics for the cache.
func WithMetrics(metrics *Metrics) Option {
	return func(c *Cache) {
		c.metrics = metrics
	}
}

// WithMaxEntries bounds the number of cached values.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// withClock overrides the time source for tests.
func withClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		maxSize: defaultMaxEntries,
		logger:  observability.NopLogger(),
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompute returns the cached value for key, computing it at most once
// across concurrent callers. The computed value is stored for ttl along
// with its ETag; a failed computation is returned to every coalesced
// caller and nothing is stored.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (any, string, error) {
	if value, etag, ok := c.lookup(key); ok {
		c.metrics.RecordHit()
		return value, etag, nil
	}

	type computed struct {
		value any
		etag  string
	}

	result, err, shared := c.group.Do(key, func() (any, error) {
		// Check again under the flight: another caller may have populated
		// the entry between our lookup and the flight starting.
		if value, etag, ok := c.lookup(key); ok {
			return computed{value: value, etag: etag}, nil
		}
		c.metrics.RecordMiss()

		spanCtx, span := c.tracer.Start(ctx, "querycache.compute",
			trace.WithAttributes(attribute.String("cache.key", key)),
		)
		defer span.End()

		start := c.now()
		value, err := compute(spanCtx)
		c.metrics.RecordComputeDuration(c.now().Sub(start))
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		etag, err := GenerateETag(value)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		c.set(key, value, etag, ttl)
		return computed{value: value, etag: etag}, nil
	})
	if err != nil {
		return nil, "", err
	}
	if shared {
		c.metrics.RecordCoalesced()
	}

	res := result.(computed)
	return res.value, res.etag, nil
}

// Get returns the cached value and ETag for key without computing.
func (c *Cache) Get(key string) (any, string, bool) {
	return c.lookup(key)
}

// Invalidate evicts the entry for key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear evicts every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len returns the number of cached entries, including expired ones not yet
// evicted.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) lookup(key string) (any, string, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, "", false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, "", false
	}
	return e.value, e.etag, true
}

func (c *Cache) set(key string, value any, etag string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		now := c.now()
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
	if len(c.entries) >= c.maxSize {
		for k := range c.entries {
			delete(c.entries, k)
			c.metrics.RecordEviction()
			break
		}
	}

	c.entries[key] = entry{
		value:     value,
		etag:      etag,
		expiresAt: c.now().Add(ttl),
	}
}
