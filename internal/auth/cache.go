package auth

import (
	"sync"
	"time"

	"github.com/optiwave/telemetry-gateway/internal/apikey"
)

// defaultCacheMaxEntries bounds cache memory when no limit is configured.
const defaultCacheMaxEntries = 10000

// cacheEntry is a verified key record with its expiry deadline.
type cacheEntry struct {
	record    *apikey.Record
	expiresAt time.Time
}

// Cache is a process-local TTL cache of verified key records, keyed by the
// key hash. It is a pure optimization: entries expire after a bounded TTL
// and can be evicted explicitly after revoke or rotate. Only successful
// verifications are stored; failures always go back to the store.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]cacheEntry // key hash -> entry
	byRecord map[string]string     // record ID -> key hash
	ttl      time.Duration
	maxSize  int
	now      func() time.Time
}

// CacheOption is a functional option for the cache.
type CacheOption func(*Cache)

// WithCacheMaxEntries bounds the number of cached records.
func WithCacheMaxEntries(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// withCacheClock overrides the time source for tests.
func withCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a verification cache with the given entry TTL.
func NewCache(ttl time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		entries:  make(map[string]cacheEntry),
		byRecord: make(map[string]string),
		ttl:      ttl,
		maxSize:  defaultCacheMaxEntries,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached record for a key hash, if present and unexpired.
func (c *Cache) Get(hash string) (*apikey.Record, bool) {
	if c.ttl <= 0 {
		return nil, false
	}

	c.mu.RLock()
	entry, ok := c.entries[hash]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		c.removeLocked(hash)
		c.mu.Unlock()
		return nil, false
	}
	return entry.record.Clone(), true
}

// Set stores a verified record under its key hash.
func (c *Cache) Set(hash string, rec *apikey.Record) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictExpiredLocked()
	}
	if len(c.entries) >= c.maxSize {
		// Still full of live entries: drop one arbitrarily rather than grow.
		for h := range c.entries {
			c.removeLocked(h)
			break
		}
	}

	c.entries[hash] = cacheEntry{
		record:    rec.Clone(),
		expiresAt: c.now().Add(c.ttl),
	}
	c.byRecord[rec.ID] = hash
}

// InvalidateHash evicts the entry for a key hash.
func (c *Cache) InvalidateHash(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(hash)
}

// InvalidateRecordID evicts the entry for a record ID, if cached.
func (c *Cache) InvalidateRecordID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hash, ok := c.byRecord[id]; ok {
		c.removeLocked(hash)
	}
}

// Clear evicts every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.byRecord = make(map[string]string)
}

// Len returns the number of cached entries, including expired ones not yet
// evicted.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) removeLocked(hash string) {
	if entry, ok := c.entries[hash]; ok {
		delete(c.byRecord, entry.record.ID)
		delete(c.entries, hash)
	}
}

func (c *Cache) evictExpiredLocked() {
	now := c.now()
	for hash, entry := range c.entries {
		if now.After(entry.expiresAt) {
			c.removeLocked(hash)
		}
	}
}
