// Package search is the fast read path over items, balances and
// purchase snapshots, fronted by a versioned Redis cache that the
// ledger writer bumps after every commit.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/apotek-erp/apotek-erp/internal/tenant"
)

const bumpChannel = "search.bump"

// Cache wraps Redis based caching with per-tenant versioning. A nil
// Cache or nil client degrades to pass-through, so the read path
// works without Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func versionKey(companyID int64) string {
	return fmt.Sprintf("search:%d:version", companyID)
}

// Version returns the tenant's cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context, companyID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(companyID)).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, versionKey(companyID), 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, versionKey(companyID), ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// BuildKey composes a cache key bound to the tenant's current version.
// Bumping the version orphans every key built before it.
func (c *Cache) BuildKey(ctx context.Context, companyID int64, parts ...any) (string, error) {
	key := fmt.Sprintf("search:%d", companyID)
	for _, p := range parts {
		key = fmt.Sprintf("%s:%v", key, p)
	}
	if c == nil || c.client == nil {
		return key, nil
	}
	ver, err := c.Version(ctx, companyID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", key, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("search: cache loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if err != redis.Nil {
		return err
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// Bump invalidates the calling tenant's cache by incrementing its
// version and publishing the change. It satisfies the ledger writer's
// CacheBumper port.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	companyID := tenant.CompanyID(ctx)
	ver, err := c.client.Incr(ctx, versionKey(companyID)).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err()
}
