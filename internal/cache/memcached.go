package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	memcachedKeyPrefix = "weatherdash:"
	generationKey      = memcachedKeyPrefix + "generation"
)

// MemcachedCache implements Cache on memcached. Entries live under a generation
// namespace; Clear bumps the generation so older entries become unreachable and
// age out on the server.
type MemcachedCache struct {
	client *memcache.Client
	now    func() time.Time
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client, now: time.Now}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// generation returns the current namespace counter, creating it at 1 if absent.
func (c *MemcachedCache) generation() (string, error) {
	item, err := c.client.Get(generationKey)
	if err == nil {
		return string(item.Value), nil
	}
	if !errors.Is(err, memcache.ErrCacheMiss) {
		return "", err
	}
	err = c.client.Add(&memcache.Item{Key: generationKey, Value: []byte("1")})
	if err != nil && !errors.Is(err, memcache.ErrNotStored) {
		return "", err
	}
	if errors.Is(err, memcache.ErrNotStored) {
		// Lost the race to another writer; read theirs.
		item, err = c.client.Get(generationKey)
		if err != nil {
			return "", err
		}
		return string(item.Value), nil
	}
	return "1", nil
}

// itemKey hashes the request signature: memcached keys are limited to 250
// bytes without spaces or control characters.
func itemKey(gen, key string) string {
	sum := sha256.Sum256([]byte(key))
	return memcachedKeyPrefix + gen + ":" + hex.EncodeToString(sum[:])
}

// Get implements Cache.Get. Returns false, nil on miss or stale entry; false, err on backend error.
func (c *MemcachedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	gen, err := c.generation()
	if err != nil {
		return nil, false, err
	}
	item, err := c.client.Get(itemKey(gen, key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var env envelope
	if err := json.Unmarshal(item.Value, &env); err != nil {
		return nil, false, err
	}
	if !env.fresh(c.now()) {
		return nil, false, nil
	}
	return env.Body, true, nil
}

// Set implements Cache.Set. value must be valid JSON.
func (c *MemcachedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	gen, err := c.generation()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(envelope{WrittenAt: c.now(), TTL: ttl, Body: value})
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        itemKey(gen, key),
		Value:      raw,
		Expiration: expirationSeconds(ttl),
	})
}

// expirationSeconds rounds ttl up to whole seconds for the server-side backstop.
func expirationSeconds(ttl time.Duration) int32 {
	const maxRelativeExp = 30 * 24 * 60 * 60 // beyond this memcached reads the value as a unix time
	sec := int64((ttl + time.Second - 1) / time.Second)
	if sec <= 0 || sec > maxRelativeExp {
		return 3600
	}
	return int32(sec)
}

// Clear implements Cache.Clear by advancing the generation counter.
func (c *MemcachedCache) Clear(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	_, err := c.client.Increment(generationKey, 1)
	if errors.Is(err, memcache.ErrCacheMiss) {
		// No generation yet means nothing was ever stored under one.
		return nil
	}
	return err
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}

