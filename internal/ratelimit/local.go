package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// localEntry pairs a token bucket with its last use, for idle cleanup.
type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter is a per-instance token bucket applied before any
// distributed check. It sheds abusive traffic without a store round trip;
// the authoritative cross-instance budget stays with Limiter.
type LocalLimiter struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	rps     rate.Limit
	burst   int
	maxIdle time.Duration
	metrics *Metrics
}

// LocalLimiterOption is a functional option for the local limiter.
type LocalLimiterOption func(*LocalLimiter)

// WithLocalMetrics sets the metrics for the local limiter.
func WithLocalMetrics(metrics *Metrics) LocalLimiterOption {
	return func(l *LocalLimiter) {
		l.metrics = metrics
	}
}

// NewLocalLimiter creates a per-instance limiter allowing rps requests per
// second with the given burst, tracked independently per key.
func NewLocalLimiter(rps float64, burst int, opts ...LocalLimiterOption) *LocalLimiter {
	l := &LocalLimiter{
		entries: make(map[string]*localEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		maxIdle: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether the key may proceed under the per-instance budget.
func (l *LocalLimiter) Allow(key string) bool {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		if len(l.entries) > 0 && len(l.entries)%1024 == 0 {
			l.cleanupLocked()
		}
		entry = &localEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()

	allowed := entry.limiter.Allow()
	if !allowed {
		l.metrics.RecordLocalDrop()
	}
	return allowed
}

// cleanupLocked drops buckets idle longer than maxIdle.
func (l *LocalLimiter) cleanupLocked() {
	cutoff := time.Now().Add(-l.maxIdle)
	for key, entry := range l.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}
