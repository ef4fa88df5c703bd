package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Cache stores raw upstream response bodies keyed by request signature.
// Get returns a value only while it is fresh (now - writtenAt < ttl); expiry is
// checked on read and nothing sweeps in the background.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// envelope is the stored form used by the remote backends. It carries the
// write time so freshness is decided by the same rule as the in-memory cache,
// independent of the server's own expiry granularity.
type envelope struct {
	WrittenAt time.Time       `json:"written_at"`
	TTL       time.Duration   `json:"ttl"`
	Body      json.RawMessage `json:"body"`
}

func (e envelope) fresh(now time.Time) bool {
	return now.Sub(e.WrittenAt) < e.TTL
}

// InMemoryCache implements Cache with a mutex-guarded map. Safe for concurrent use;
// concurrent writers to the same key follow last-writer-wins.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     []byte
	writtenAt time.Time
	ttl       time.Duration
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithClock(time.Now)
}

// NewInMemoryCacheWithClock creates an in-memory cache that reads time from now.
func NewInMemoryCacheWithClock(now func() time.Time) *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  now,
	}
}

// Get returns the stored body for key if present and fresh.
// An expired entry is removed and reported as a miss.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if c.now().Sub(entry.writtenAt) >= entry.ttl {
		c.mu.Lock()
		// A concurrent Set may have refreshed the key since the read lock was released.
		if cur, ok := c.data[key]; ok && cur.writtenAt.Equal(entry.writtenAt) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Set stores value under key with the current time as its write time.
func (c *InMemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry{
		value:     value,
		writtenAt: c.now(),
		ttl:       ttl,
	}
	return nil
}

// Clear drops every entry. Clearing an empty cache is a no-op.
func (c *InMemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]cacheEntry)
	return nil
}

// Len returns the number of stored entries, expired ones included until they are read.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
