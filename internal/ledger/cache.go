package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cache keeps retailer summaries in Redis under a per-retailer version so that an
// append only has to bump the version to retire stale values.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func versionKey(retailerID int64) string {
	return fmt.Sprintf("ledger:summary:%d:version", retailerID)
}

func (c *Cache) key(ctx context.Context, retailerID int64) (string, error) {
	ver, err := c.client.Get(ctx, versionKey(retailerID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return fmt.Sprintf("ledger:summary:%d:v%d", retailerID, ver), nil
}

// Summary returns the cached summary or loads it once for all concurrent callers.
// Redis failures fall back to the loader.
func (c *Cache) Summary(ctx context.Context, retailerID int64, loader func(context.Context) (Summary, error)) (Summary, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key, err := c.key(ctx, retailerID)
	if err != nil {
		c.logger.Warn("ledger cache version", slog.Int64("retailer_id", retailerID), slog.Any("error", err))
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached Summary
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("ledger cache get", slog.String("key", key), slog.Any("error", err))
		return loader(ctx)
	}

	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		summary, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(summary)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("ledger cache set", slog.String("key", key), slog.Any("error", err))
		}
		return summary, nil
	})
	select {
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return Summary{}, res.Err
		}
		return res.Val.(Summary), nil
	}
}

// Invalidate retires the cached summary of a retailer.
func (c *Cache) Invalidate(ctx context.Context, retailerID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(retailerID)).Err()
}
