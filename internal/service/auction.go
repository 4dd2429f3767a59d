package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/spotlight/internal/clock"
	"github.com/alanyoungcy/spotlight/internal/domain"
)

// AuctionConfig holds the tunables shared by the bidding and lifecycle
// services. Amounts are integer minor units.
type AuctionConfig struct {
	MinBid int64
	// MaxBid of zero means no upper bound.
	MaxBid          int64
	RoundDuration   time.Duration
	FeatureDuration time.Duration
	SlotCount       int
	Snipe           domain.SnipePolicy

	// Per-contributor bid rate limit. Zero disables it.
	RateLimit  int
	RateWindow time.Duration

	RequireSignature bool
}

// DefaultAuctionConfig mirrors the defaults in the config package.
func DefaultAuctionConfig() AuctionConfig {
	return AuctionConfig{
		MinBid:          100,
		MaxBid:          0,
		RoundDuration:   24 * time.Hour,
		FeatureDuration: 24 * time.Hour,
		SlotCount:       domain.DefaultSlotCount,
		Snipe: domain.SnipePolicy{
			Window:       5 * time.Minute,
			Extension:    3 * time.Minute,
			MaxExtension: 30 * time.Minute,
		},
		RateLimit:  10,
		RateWindow: time.Minute,
	}
}

// Stores groups the persistence ports a service needs. All of them must
// join transactions opened by Tx.
type Stores struct {
	Tx      domain.Transactor
	Pools   domain.PoolStore
	Bids    domain.BidStore
	Slots   domain.SlotStore
	Ledger  domain.Ledger
	Proofs  domain.ProofStore
	Targets domain.TargetDirectory
	Audit   domain.AuditStore
}

// Event types published on the signal bus.
const (
	EventBidPlaced     = "bid.placed"
	EventBidRefunded   = "bid.refunded"
	EventPoolExtended  = "pool.extended"
	EventPoolClosed    = "pool.closed"
	EventPoolPromoted  = "pool.promoted"
	EventPoolRetired   = "pool.retired"
	EventSlotsRotated  = "slots.rotated"
	EventTickCompleted = "lifecycle.tick"
)

// publisher announces committed changes: events go to the signal bus and
// changed pools are dropped from the read cache. Failures are logged and
// never reach the caller; the database is the source of truth.
type publisher struct {
	bus    domain.SignalBus
	cache  domain.PoolCache
	clock  clock.Clock
	logger *slog.Logger
}

func (p publisher) invalidate(ctx context.Context, poolIDs ...string) {
	if p.cache == nil {
		return
	}
	for _, id := range poolIDs {
		if err := p.cache.Invalidate(context.WithoutCancel(ctx), id); err != nil {
			p.logger.WarnContext(ctx, "invalidate pool cache",
				slog.String("pool_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p publisher) publish(ctx context.Context, channel, typ string, data any) {
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.Event{Type: typ, Data: data, At: p.clock.Now()})
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal event", slog.String("type", typ), slog.String("error", err.Error()))
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := p.bus.Publish(ctx, channel, payload); err != nil {
		p.logger.WarnContext(ctx, "publish event",
			slog.String("channel", channel),
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)
	}
	if err := p.bus.StreamAppend(ctx, domain.StreamEvents, payload); err != nil {
		p.logger.WarnContext(ctx, "append event to stream",
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)
	}
}
