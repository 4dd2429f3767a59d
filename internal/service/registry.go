package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/spotlight/internal/clock"
	"github.com/alanyoungcy/spotlight/internal/domain"
)

// Promotion describes a completed promotion.
type Promotion struct {
	Pool      domain.Pool         `json:"pool"`
	Target    domain.Target       `json:"target"`
	Slot      domain.FeaturedSlot `json:"slot"`
	Displaced *domain.Pool        `json:"displaced,omitempty"`
}

// Registry owns the fixed-size set of featured slots. Every promotion locks
// all slot rows, so concurrent promotions serialize and never pick the same
// victim.
type Registry struct {
	stores          Stores
	size            int
	featureDuration time.Duration
	notifier        domain.Notifier
	events          publisher
	clock           clock.Clock
	logger          *slog.Logger
}

func NewRegistry(stores Stores, size int, featureDuration time.Duration, bus domain.SignalBus, clk clock.Clock, logger *slog.Logger) *Registry {
	if size <= 0 {
		size = domain.DefaultSlotCount
	}
	logger = logger.With(slog.String("component", "registry"))
	return &Registry{
		stores:          stores,
		size:            size,
		featureDuration: featureDuration,
		events:          publisher{bus: bus, clock: clk, logger: logger},
		clock:           clk,
		logger:          logger,
	}
}

func (r *Registry) WithPoolCache(c domain.PoolCache) *Registry {
	r.events.cache = c
	return r
}

func (r *Registry) WithNotifier(n domain.Notifier) *Registry {
	r.notifier = n
	return r
}

// Ensure creates the slot rows. Call once at startup.
func (r *Registry) Ensure(ctx context.Context) error {
	if err := r.stores.Slots.Ensure(ctx, r.size); err != nil {
		return fmt.Errorf("service: ensure %d slots: %w", r.size, err)
	}
	return nil
}

// Slots returns the current featured set ordered by index.
func (r *Registry) Slots(ctx context.Context) ([]domain.FeaturedSlot, error) {
	slots, err := r.stores.Slots.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: list slots: %w", err)
	}
	return slots, nil
}

// Promote moves a pending_promotion pool into a featured slot. It returns
// ok=false when the pool is no longer pending, which makes a repeat call a
// no-op. A target that cannot be looked up leaves the pool pending.
func (r *Registry) Promote(ctx context.Context, poolID string) (Promotion, bool, error) {
	var promo Promotion
	var done bool
	err := r.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
		pool, err := r.stores.Pools.GetForUpdate(ctx, poolID)
		if err != nil {
			return err
		}
		if pool.Status != domain.PoolStatusPendingPromotion {
			return nil
		}

		target := domain.Target{ID: pool.TargetID}
		if r.stores.Targets != nil {
			if target, err = r.stores.Targets.Lookup(ctx, pool.TargetID); err != nil {
				return fmt.Errorf("lookup target %s: %w", pool.TargetID, err)
			}
		}

		slots, err := r.stores.Slots.ListForUpdate(ctx)
		if err != nil {
			return err
		}
		idx := domain.ChooseEvictionSlot(slots, r.size)
		var previous domain.FeaturedSlot
		for _, s := range slots {
			if s.SlotIndex == idx {
				previous = s
			}
		}

		now := r.clock.Now()
		if previous.PoolID != "" && previous.PoolID != pool.ID {
			displaced, err := r.stores.Pools.GetForUpdate(ctx, previous.PoolID)
			if err != nil {
				return err
			}
			if displaced.Status == domain.PoolStatusActive {
				if err := displaced.Transition(domain.PoolStatusCompleted); err != nil {
					return err
				}
				displaced.UpdatedAt = now
				if err := r.stores.Pools.Update(ctx, displaced); err != nil {
					return err
				}
				promo.Displaced = &displaced
			}
		}

		slot := domain.FeaturedSlot{SlotIndex: idx, TargetID: pool.TargetID, PoolID: pool.ID, PromotedAt: now}
		if err := r.stores.Slots.Upsert(ctx, slot); err != nil {
			return err
		}

		if err := pool.Transition(domain.PoolStatusActive); err != nil {
			return err
		}
		ends := now.Add(r.featureDuration)
		pool.FeatureStartsAt = &now
		pool.FeatureEndsAt = &ends
		pool.UpdatedAt = now
		if err := r.stores.Pools.Update(ctx, pool); err != nil {
			return err
		}

		promo.Pool, promo.Target, promo.Slot = pool, target, slot
		done = true
		detail := map[string]any{
			"target_id":  pool.TargetID,
			"slot_index": idx,
			"total":      pool.TotalPooled,
		}
		if previous.Filled() {
			detail["evicted_target_id"] = previous.TargetID
			detail["evicted_pool_id"] = previous.PoolID
		}
		return r.stores.Audit.Log(ctx, domain.AuditEntry{
			Event:  domain.AuditPoolPromoted,
			PoolID: pool.ID,
			Detail: detail,
		})
	})
	if err != nil {
		return Promotion{}, false, fmt.Errorf("service: promote pool %s: %w", poolID, err)
	}
	if !done {
		return Promotion{}, false, nil
	}

	r.logger.InfoContext(ctx, "pool promoted",
		slog.String("pool_id", promo.Pool.ID),
		slog.String("target_id", promo.Pool.TargetID),
		slog.Int("slot_index", promo.Slot.SlotIndex),
	)
	r.events.invalidate(ctx, promo.Pool.ID)
	if promo.Displaced != nil {
		r.events.invalidate(ctx, promo.Displaced.ID)
	}
	r.events.publish(ctx, domain.ChannelSlots, EventSlotsRotated, promo.Slot)
	r.events.publish(ctx, domain.ChannelPools, EventPoolPromoted, promo.Pool)
	if r.notifier != nil {
		r.notifier.OnPromoted(ctx, promo.Target, promo.Pool)
	}
	return promo, true, nil
}
