package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channels carrying auction events.
const (
	ChannelBids  = "spotlight:bids"
	ChannelPools = "spotlight:pools"
	ChannelSlots = "spotlight:slots"
	// StreamEvents keeps a durable copy of every published event.
	StreamEvents = "spotlight:events"
)

// Event is the envelope published on the signal bus.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data"`
	At   time.Time `json:"at"`
}

// PoolCache is a short-lived read cache for pool snapshots with a secondary
// index from target to its current bidding pool. Misses return ErrNotFound.
type PoolCache interface {
	Set(ctx context.Context, pool Pool) error
	Get(ctx context.Context, id string) (Pool, error)
	GetByTarget(ctx context.Context, targetID string) (Pool, error)
	Invalidate(ctx context.Context, id string) error
}
