package domain

import (
	"context"
	"time"
)

// MarketCache holds the latest snapshot of each market for API reads.
// Get returns ErrNotFound on a miss.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter answers whether key may make another request within a sliding
// window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager hands out expiring exclusive locks. Acquire fails with
// ErrLockHeld when another holder owns key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry of a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries market events: pub/sub channels for live subscribers
// and append-only streams for indexers that replay from an id.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe accepts glob patterns such as "market:*".
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
