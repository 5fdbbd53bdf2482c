package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"
)

// StatsCache keeps short-lived msgpack snapshots (ingest statistics, source
// listings) in Redis so dashboards polling the admin surface do not hit the
// router or database on every request.
type StatsCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewStatsCache connects to Redis at addr. A failed ping is returned but the
// cache stays usable; go-redis reconnects on the next command.
func NewStatsCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*StatsCache, error) {
	c := &StatsCache{
		rdb:    redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		ttl:    ttl,
		prefix: "aisguard:",
	}
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return c, fmt.Errorf("store: redis ping %s: %w", addr, err)
	}
	return c, nil
}

// Get loads key into v. It reports false on a miss.
func (c *StatsCache) Get(ctx context.Context, key string, v any) (bool, error) {
	b, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: cache get %s: %w", key, err)
	}
	if err := msgpack.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("store: cache decode %s: %w", key, err)
	}
	return true, nil
}

// Put stores v under key for the cache TTL.
func (c *StatsCache) Put(ctx context.Context, key string, v any) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: cache encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, c.prefix+key, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("store: cache set %s: %w", key, err)
	}
	return nil
}

// Invalidate drops key.
func (c *StatsCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	return c.rdb.Del(ctx, full...).Err()
}

// Close releases the connection pool.
func (c *StatsCache) Close() error { return c.rdb.Close() }
