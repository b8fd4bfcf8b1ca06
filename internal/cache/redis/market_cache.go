package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/marketescrow/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultMarketTTL bounds how stale a cached market detail can be when an
// invalidation is lost.
const DefaultMarketTTL = 30 * time.Second

// MarketCache implements domain.MarketCache. Each detail is one JSON string
// under market:{id}.
type MarketCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache. A non-positive ttl uses DefaultMarketTTL.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = DefaultMarketTTL
	}
	return &MarketCache{rdb: c.Underlying(), ttl: ttl}
}

func marketKey(id string) string { return "market:" + id }

// Set stores the detail with the cache TTL.
func (mc *MarketCache) Set(ctx context.Context, detail domain.MarketDetail) error {
	data, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", detail.Market.ID, err)
	}
	if err := mc.rdb.Set(ctx, marketKey(detail.Market.ID), data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set market %s: %w", detail.Market.ID, err)
	}
	return nil
}

// Get returns the cached detail or domain.ErrNotFound on a miss.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.MarketDetail, error) {
	data, err := mc.rdb.Get(ctx, marketKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketDetail{}, domain.ErrNotFound
		}
		return domain.MarketDetail{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}

	var detail domain.MarketDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return domain.MarketDetail{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return detail, nil
}

// Invalidate drops the cached detail.
func (mc *MarketCache) Invalidate(ctx context.Context, id string) error {
	if err := mc.rdb.Del(ctx, marketKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
