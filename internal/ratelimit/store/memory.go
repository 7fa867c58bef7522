package store

import (
	"context"
	"sync"
	"time"
)

// memoryEntry is a counter with its expiry deadline.
type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is an in-memory Store for tests and single-instance
// deployments. Expired counters are dropped lazily on access and swept
// opportunistically on writes.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// MemoryStoreOption is a functional option for the memory store.
type MemoryStoreOption func(*MemoryStore)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IncrementWithExpiry atomically increments the counter for key.
func (s *MemoryStore) IncrementWithExpiry(_ context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &memoryEntry{expiresAt: now.Add(expiration)}
		s.entries[key] = entry
	}
	entry.count += delta
	return entry.count, nil
}

// Get returns the current counter value.
func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return 0, nil
	}
	return entry.count, nil
}

// TTL returns the remaining lifetime of the key.
func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	ttl := entry.expiresAt.Sub(s.now())
	if ttl < 0 {
		delete(s.entries, key)
		return 0, nil
	}
	return ttl, nil
}

// Delete removes the counter for key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
