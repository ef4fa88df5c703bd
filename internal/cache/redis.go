package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "weatherdash::"
	clearBatchSize = 100
)

// RedisConfig holds connection settings for RedisCache.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	IOTimeout   time.Duration
}

// RedisCache implements Cache on Redis. Keys are namespaced as
// "weatherdash::<request signature>"; Clear removes that namespace only.
type RedisCache struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisCache creates a RedisCache. The connection is lazy; use Ping to check reachability.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis cache: address is required")
	}
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.IOTimeout > 0 {
		opts.ReadTimeout = cfg.IOTimeout
		opts.WriteTimeout = cfg.IOTimeout
	}
	return &RedisCache{rdb: redis.NewClient(opts), now: time.Now}, nil
}

// Get implements Cache.Get.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, err
	}
	if !env.fresh(c.now()) {
		return nil, false, nil
	}
	return env.Body, true, nil
}

// Set implements Cache.Set. value must be valid JSON.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	raw, err := json.Marshal(envelope{WrittenAt: c.now(), TTL: ttl, Body: value})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, redisKeyPrefix+key, raw, ttl).Err()
}

// Clear implements Cache.Clear by scanning the key namespace and deleting in batches.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, redisKeyPrefix+"*", clearBatchSize).Iterator()
	batch := make([]string, 0, clearBatchSize)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == clearBatchSize {
			if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis cache: clear: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis cache: scan: %w", err)
	}
	if len(batch) > 0 {
		if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis cache: clear: %w", err)
		}
	}
	return nil
}

// Ping checks if Redis is reachable. Used for health checks.
func (c *RedisCache) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection pool. Call during shutdown.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
