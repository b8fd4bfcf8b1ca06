package domain

import (
	"context"
	"time"
)

// MarketCache provides fast market detail lookups.
type MarketCache interface {
	Set(ctx context.Context, detail MarketDetail) error
	Get(ctx context.Context, id string) (MarketDetail, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub for market events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// MarketEvent is published on the signal bus whenever a market transitions.
type MarketEvent struct {
	Event    string       `json:"event"`
	MarketID string       `json:"market_id"`
	Status   MarketStatus `json:"status"`
	At       time.Time    `json:"at"`
}

// MarketChannel is the bus channel carrying events for one market.
func MarketChannel(marketID string) string {
	return "ch:market:" + marketID
}
