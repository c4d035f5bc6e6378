package ipinfo

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// cache is the small surface the cached resolver needs. Satisfied by
// RedisCache in production and by a map-backed fake in tests.
type cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
}

// CachedResolver wraps a Resolver with a TTL'd cache. Cache errors fall
// through to the inner resolver; a cache must never make a lookup fail.
type CachedResolver struct {
	inner Resolver
	cache cache
	ttl   time.Duration
}

// NewCachedResolver wraps inner with the given cache.
func NewCachedResolver(inner Resolver, c cache, ttl time.Duration) *CachedResolver {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CachedResolver{inner: inner, cache: c, ttl: ttl}
}

func (r *CachedResolver) Lookup(ctx context.Context, ip string) (Info, error) {
	key := "ipinfo:" + ip
	if data, ok := r.cache.Get(ctx, key); ok {
		var info Info
		if err := json.Unmarshal(data, &info); err == nil {
			return info, nil
		}
	}

	info, err := r.inner.Lookup(ctx, ip)
	if err != nil {
		return info, err
	}

	if data, err := json.Marshal(info); err == nil {
		r.cache.Set(ctx, key, data, r.ttl)
	}
	return info, nil
}

// RedisCache implements cache on go-redis. All failures degrade to a
// cache miss.
type RedisCache struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedisCache connects a cache to the given redis URL.
func NewRedisCache(redisURL string, logger *slog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	return &RedisCache{rdb: redis.NewClient(opts), logger: logger}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("ipinfo cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return data, true
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if err := c.rdb.Set(ctx, key, val, ttl).Err(); err != nil {
		c.logger.Debug("ipinfo cache set failed", "key", key, "error", err)
	}
}

// Close releases the underlying redis connection pool.
func (c *RedisCache) Close() error { return c.rdb.Close() }
