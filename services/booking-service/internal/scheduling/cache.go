package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const cachePrefix = "sched:"

// CachedProvider keeps snapshots in Redis as JSON. Redis failures are logged
// and the call falls through to the wrapped provider.
type CachedProvider struct {
	next   Provider
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedProvider(next Provider, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedProvider{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(businessID, staffID, variantID string) string {
	return cachePrefix + businessID + ":" + staffID + ":" + variantID
}

func (c *CachedProvider) Snapshot(ctx context.Context, businessID, staffID, variantID string) (Snapshot, error) {
	key := cacheKey(businessID, staffID, variantID)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err == nil {
			return snap, nil
		}
		c.logger.Warn("schedule cache entry unreadable", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("schedule cache read failed", "key", key, "err", err)
	}

	snap, err := c.next.Snapshot(ctx, businessID, staffID, variantID)
	if err != nil {
		return Snapshot{}, err
	}
	if raw, err := json.Marshal(snap); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("schedule cache write failed", "key", key, "err", err)
		}
	}
	return snap, nil
}

func (c *CachedProvider) Invalidate(ctx context.Context, businessID, staffID string) error {
	pattern := cachePrefix + businessID + ":*"
	if staffID != "" {
		pattern = cachePrefix + businessID + ":" + staffID + ":*"
	}
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
