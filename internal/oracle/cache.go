package oracle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// ErrCacheMiss is returned by Cache.Get when no fresh value exists.
var ErrCacheMiss = errors.New("oracle cache miss")

// Reading is one cached oracle value: a USD price or a rank stored as a
// decimal, with the time it was fetched.
type Reading struct {
	Value decimal.Decimal
	Ts    time.Time
}

// Cache stores oracle readings for a bounded time.
type Cache interface {
	Get(ctx context.Context, key string) (Reading, error)
	Set(ctx context.Context, key string, r Reading, ttl time.Duration) error
}

// ──────────────────────────────────────────────────────────────────────────────
// MemoryCache
// ──────────────────────────────────────────────────────────────────────────────

type memEntry struct {
	r       Reading
	expires time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Reading, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return Reading{}, ErrCacheMiss
	}
	return e.r, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, r Reading, ttl time.Duration) error {
	c.mu.Lock()
	c.entries[key] = memEntry{r: r, expires: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// RedisCache
// ──────────────────────────────────────────────────────────────────────────────

// RedisCache stores each reading as a hash at "oracle:{key}" with fields
// "value" and "ts" (Unix nanoseconds), expiring after the TTL.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func redisKey(key string) string { return "oracle:" + key }

func (c *RedisCache) Get(ctx context.Context, key string) (Reading, error) {
	vals, err := c.rdb.HGetAll(ctx, redisKey(key)).Result()
	if err != nil {
		return Reading{}, fmt.Errorf("redis: get %s: %w", key, err)
	}
	valStr, ok := vals["value"]
	if !ok {
		return Reading{}, ErrCacheMiss
	}
	value, err := decimal.NewFromString(valStr)
	if err != nil {
		return Reading{}, fmt.Errorf("redis: parse value %s: %w", key, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return Reading{}, fmt.Errorf("redis: parse ts %s: %w", key, err)
	}
	return Reading{Value: value, Ts: time.Unix(0, tsNano).UTC()}, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, r Reading, ttl time.Duration) error {
	k := redisKey(key)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, k, map[string]interface{}{
		"value": r.Value.String(),
		"ts":    strconv.FormatInt(r.Ts.UnixNano(), 10),
	})
	pipe.Expire(ctx, k, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)
