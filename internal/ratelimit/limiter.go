// Package ratelimit implements distributed fixed-window rate limiting on
// top of an atomic counter store.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/optiwave/telemetry-gateway/internal/observability"
	"github.com/optiwave/telemetry-gateway/internal/ratelimit/store"
)

// Counter key prefixes by limited dimension.
const (
	ipKeyPrefix       = "rl:ip:"
	identityKeyPrefix = "rl:key:"
)

// IPKey builds the counter key for a client IP.
func IPKey(ip string) string {
	return ipKeyPrefix + ip
}

// IdentityKey builds the counter key for an authenticated identity.
func IdentityKey(recordID string) string {
	return identityKeyPrefix + recordID
}

// RateLimitError indicates that a quota was exhausted.
type RateLimitError struct {
	// Key is the exhausted counter key.
	Key string

	// Limit is the request budget per window.
	Limit int

	// RetryAfter is the time until the window resets.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit of %d exceeded for %s, retry after %s", e.Limit, e.Key, e.RetryAfter)
}

// Result describes the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is within budget.
	Allowed bool

	// Limit is the request budget per window.
	Limit int

	// Remaining is the budget left in the current window.
	Remaining int

	// ResetAfter is the time until the current window expires. Zero when
	// no window is in progress.
	ResetAfter time.Duration

	// FailedOpen indicates the counter store was unreachable and the
	// request was allowed without counting.
	FailedOpen bool
}

// Limiter enforces fixed-window limits using a shared counter store.
//
// Each key's window starts at its first request and lasts exactly the
// configured duration; it is not aligned to wall-clock boundaries. A
// client can therefore burst up to twice the budget across two adjacent
// windows, which is accepted in exchange for a single atomic store
// operation per request.
//
// The limiter fails open: if the store is unreachable the request is
// allowed and a warning is logged. Quota enforcement prioritizes
// availability, unlike authentication which fails closed.
type Limiter struct {
	store   store.Store
	logger  observability.Logger
	metrics *Metrics
}

// Option is a functional option for the limiter.
type Option func(*Limiter)

// WithLogger sets the logger for the limiter.
func WithLogger(logger observability.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics for the limiter.
func WithMetrics(metrics *Metrics) Option {
	return func(l *Limiter) {
		l.metrics = metrics
	}
}

// NewLimiter creates a limiter backed by the given counter store.
func NewLimiter(st store.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  st,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndIncrement counts the request against the key's window and reports
// whether it is within budget. Store failures allow the request.
func (l *Limiter) CheckAndIncrement(ctx context.Context, key string, maxRequests int, window time.Duration) (*Result, error) {
	count, err := l.store.IncrementWithExpiry(ctx, key, 1, window)
	if err != nil {
		l.metrics.RecordFailOpen()
		l.logger.Warn("counter store unreachable, allowing request",
			observability.String("key", key),
			observability.Error(err),
		)
		return &Result{
			Allowed:    true,
			Limit:      maxRequests,
			Remaining:  maxRequests,
			FailedOpen: true,
		}, nil
	}

	result := &Result{
		Allowed: count <= int64(maxRequests),
		Limit:   maxRequests,
	}
	if remaining := int64(maxRequests) - count; remaining > 0 {
		result.Remaining = int(remaining)
	}

	ttl, err := l.store.TTL(ctx, key)
	if err != nil {
		// The decision is already made; a failed TTL read only costs the
		// reset hint.
		l.logger.Warn("failed to read window ttl",
			observability.String("key", key),
			observability.Error(err),
		)
	} else {
		result.ResetAfter = ttl
	}

	if result.Allowed {
		l.metrics.RecordDecision("allowed")
	} else {
		l.metrics.RecordDecision("denied")
	}
	return result, nil
}

// Enforce is CheckAndIncrement with a RateLimitError when the budget is
// exhausted. RetryAfter is derived from the window's remaining TTL and
// rounded up to whole seconds for the Retry-After header.
func (l *Limiter) Enforce(ctx context.Context, key string, maxRequests int, window time.Duration) (*Result, error) {
	result, err := l.CheckAndIncrement(ctx, key, maxRequests, window)
	if err != nil {
		return nil, err
	}
	if result.Allowed {
		return result, nil
	}

	retryAfter := result.ResetAfter
	if retryAfter <= 0 {
		retryAfter = window
	}
	return result, &RateLimitError{
		Key:        key,
		Limit:      maxRequests,
		RetryAfter: time.Duration(math.Ceil(retryAfter.Seconds())) * time.Second,
	}
}

// Reset clears the window for a key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Delete(ctx, key)
}

// Status returns the current count and remaining TTL for a key without
// incrementing.
func (l *Limiter) Status(ctx context.Context, key string) (count int64, resetAfter time.Duration, err error) {
	count, err = l.store.Get(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	resetAfter, err = l.store.TTL(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	return count, resetAfter, nil
}
