package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/spotlight/internal/clock"
	"github.com/alanyoungcy/spotlight/internal/domain"
)

const (
	tickLockKey = "lifecycle:tick"
	tickLockTTL = 2 * time.Minute
)

// RefundScheduler accepts bids whose funds must be returned.
type RefundScheduler interface {
	Schedule(bidIDs ...string) int
}

// TickSummary reports what one lifecycle tick did.
type TickSummary struct {
	// Skipped is set when another process held the tick lock.
	Skipped          bool     `json:"skipped,omitempty"`
	ClosedEmpty      int      `json:"closed_empty"`
	Winner           string   `json:"winner,omitempty"`
	Rejected         int      `json:"rejected"`
	Promoted         int      `json:"promoted"`
	Retired          int      `json:"retired"`
	RefundsScheduled int      `json:"refunds_scheduled"`
	Failures         []string `json:"failures,omitempty"`
}

// Total is the number of pools whose status changed.
func (t TickSummary) Total() int {
	n := t.ClosedEmpty + t.Rejected + t.Promoted + t.Retired
	if t.Winner != "" {
		n++
	}
	return n
}

// LifecycleProcessor advances rounds: it closes ended pools, picks one
// winner across them, rejects the rest, promotes pending winners and retires
// expired features. Every step checks the current status under a row lock,
// so overlapping or repeated ticks are harmless.
type LifecycleProcessor struct {
	stores   Stores
	registry *Registry
	refunds  RefundScheduler
	locks    domain.LockManager
	notifier domain.Notifier
	events   publisher
	clock    clock.Clock
	logger   *slog.Logger
}

func NewLifecycleProcessor(
	stores Stores,
	registry *Registry,
	refunds RefundScheduler,
	bus domain.SignalBus,
	clk clock.Clock,
	logger *slog.Logger,
) *LifecycleProcessor {
	logger = logger.With(slog.String("component", "lifecycle"))
	return &LifecycleProcessor{
		stores:   stores,
		registry: registry,
		refunds:  refunds,
		events:   publisher{bus: bus, clock: clk, logger: logger},
		clock:    clk,
		logger:   logger,
	}
}

// WithLockManager makes concurrent ticks across processes skip instead of
// contending.
func (p *LifecycleProcessor) WithLockManager(l domain.LockManager) *LifecycleProcessor {
	p.locks = l
	return p
}

func (p *LifecycleProcessor) WithPoolCache(c domain.PoolCache) *LifecycleProcessor {
	p.events.cache = c
	return p
}

func (p *LifecycleProcessor) WithNotifier(n domain.Notifier) *LifecycleProcessor {
	p.notifier = n
	return p
}

// RunTick runs one lifecycle batch. Every pool is settled in its own
// transaction; a failure is logged, recorded in the summary and retried on
// the next tick without holding up the other pools. The error is non-nil
// only when ctx was cancelled.
func (p *LifecycleProcessor) RunTick(ctx context.Context) (TickSummary, error) {
	var sum TickSummary

	if p.locks != nil {
		unlock, err := p.locks.Acquire(ctx, tickLockKey, tickLockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			p.logger.InfoContext(ctx, "tick already running elsewhere, skipping")
			sum.Skipped = true
			return sum, nil
		case err != nil:
			p.logger.WarnContext(ctx, "tick lock unavailable, continuing unlocked", slog.String("error", err.Error()))
		default:
			defer unlock()
		}
	}

	now := p.clock.Now()
	outbid := p.closeRound(ctx, now, &sum)
	if p.notifier != nil {
		for _, b := range outbid {
			p.notifier.OnOutbid(ctx, b.Contributor, b)
		}
	}

	p.sweepRefunds(ctx, &sum)
	p.promotePending(ctx, &sum)
	p.retireExpired(ctx, now, &sum)

	if sum.Total() > 0 || len(sum.Failures) > 0 {
		p.events.publish(ctx, domain.ChannelPools, EventTickCompleted, sum)
	}
	p.logger.InfoContext(ctx, "lifecycle tick complete",
		slog.Int("closed_empty", sum.ClosedEmpty),
		slog.String("winner", sum.Winner),
		slog.Int("rejected", sum.Rejected),
		slog.Int("promoted", sum.Promoted),
		slog.Int("retired", sum.Retired),
		slog.Int("refunds_scheduled", sum.RefundsScheduled),
		slog.Int("failures", len(sum.Failures)),
	)
	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("service: lifecycle tick: %w", err)
	}
	return sum, nil
}

// closeRound settles every ended bidding pool: the best funded one becomes
// the round's single winner, the others (empty ones included) complete with
// their active bids marked outbid. It returns the bids that were outbid.
//
// A pool that ended no later than the last winner selection belonged to a
// round that already has a winner, so a retried pool can only lose. If
// settling the chosen winner fails, it stays bidding and competes again next
// tick; the remaining pools are still rejected since they lost to it.
func (p *LifecycleProcessor) closeRound(ctx context.Context, now time.Time, sum *TickSummary) []domain.Bid {
	ended, err := p.stores.Pools.ListEnded(ctx, now)
	if err != nil {
		p.fail(ctx, sum, "list ended pools", err)
		return nil
	}
	if len(ended) == 0 {
		return nil
	}
	lastWon, err := p.stores.Pools.LastWonAt(ctx)
	if err != nil {
		p.fail(ctx, sum, "last winner", err)
		return nil
	}

	var funded, losers []domain.Pool
	for _, pool := range ended {
		if pool.TotalPooled > 0 && pool.EndsAt.After(lastWon) {
			funded = append(funded, pool)
		} else {
			losers = append(losers, pool)
		}
	}

	for len(funded) > 0 {
		w := domain.SelectWinner(funded)
		pick := funded[w]
		funded = append(funded[:w:w], funded[w+1:]...)

		won, err := p.crown(ctx, pick.ID, now, len(funded)+1)
		if err != nil {
			p.fail(ctx, sum, "select winner "+pick.ID, err)
			break
		}
		if won != nil {
			sum.Winner = won.ID
			break
		}
		// Settled by someone else since the listing; pick again.
	}

	var outbid []domain.Bid
	for _, pool := range append(losers, funded...) {
		outbid = append(outbid, p.reject(ctx, pool.ID, now, sum)...)
	}
	return outbid
}

// crown moves the winning pool to pending_promotion and its active bids to
// won. It returns nil when the pool is no longer an ended bidding pool.
func (p *LifecycleProcessor) crown(ctx context.Context, poolID string, now time.Time, candidates int) (*domain.Pool, error) {
	return p.settle(ctx, poolID, now, domain.PoolStatusPendingPromotion, func(ctx context.Context, pool *domain.Pool) error {
		pool.WonAt = &now
		if _, err := p.stores.Bids.TransitionByPool(ctx, pool.ID, domain.BidStatusActive, domain.BidStatusWon); err != nil {
			return err
		}
		return p.stores.Audit.Log(ctx, domain.AuditEntry{
			Event:  domain.AuditPoolWon,
			PoolID: pool.ID,
			Detail: map[string]any{
				"target_id":  pool.TargetID,
				"total":      pool.TotalPooled,
				"candidates": candidates,
			},
		})
	})
}

func (p *LifecycleProcessor) reject(ctx context.Context, poolID string, now time.Time, sum *TickSummary) []domain.Bid {
	var moved []domain.Bid
	pool, err := p.settle(ctx, poolID, now, domain.PoolStatusCompleted, func(ctx context.Context, pool *domain.Pool) error {
		var err error
		moved, err = p.stores.Bids.TransitionByPool(ctx, pool.ID, domain.BidStatusActive, domain.BidStatusOutbid)
		return err
	})
	if err != nil {
		p.fail(ctx, sum, "reject "+poolID, err)
		return nil
	}
	if pool == nil {
		return nil
	}
	if pool.TotalPooled == 0 {
		sum.ClosedEmpty++
	} else {
		sum.Rejected++
	}
	return moved
}

// settle locks one pool and, if it is still an ended bidding pool, moves it
// to status to. apply runs in the same transaction before the pool row is
// written and may amend the pool.
func (p *LifecycleProcessor) settle(
	ctx context.Context,
	poolID string,
	now time.Time,
	to domain.PoolStatus,
	apply func(ctx context.Context, pool *domain.Pool) error,
) (*domain.Pool, error) {
	var settled *domain.Pool
	err := p.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
		settled = nil
		pool, err := p.stores.Pools.GetForUpdate(ctx, poolID)
		if err != nil {
			return err
		}
		if pool.Status != domain.PoolStatusBidding || !pool.Ended(now) {
			return nil
		}
		if err := pool.Transition(to); err != nil {
			return err
		}
		pool.UpdatedAt = now
		if err := apply(ctx, &pool); err != nil {
			return err
		}
		if err := p.stores.Pools.Update(ctx, pool); err != nil {
			return err
		}
		settled = &pool
		return nil
	})
	if err != nil {
		return nil, err
	}
	if settled != nil {
		p.events.invalidate(ctx, settled.ID)
		p.events.publish(ctx, domain.ChannelPools, EventPoolClosed, *settled)
	}
	return settled, nil
}

func (p *LifecycleProcessor) setStatus(ctx context.Context, pool *domain.Pool, to domain.PoolStatus, now time.Time) error {
	if err := pool.Transition(to); err != nil {
		return err
	}
	pool.UpdatedAt = now
	return p.stores.Pools.Update(ctx, *pool)
}

// sweepRefunds schedules every outbid bid, including ones left behind by an
// earlier tick that stopped part way.
func (p *LifecycleProcessor) sweepRefunds(ctx context.Context, sum *TickSummary) {
	if p.refunds == nil {
		return
	}
	bids, err := p.stores.Bids.ListByStatus(ctx, domain.BidStatusOutbid, 0)
	if err != nil {
		p.fail(ctx, sum, "sweep refunds", err)
		return
	}
	if len(bids) == 0 {
		return
	}
	ids := make([]string, len(bids))
	for i, b := range bids {
		ids[i] = b.ID
	}
	sum.RefundsScheduled += p.refunds.Schedule(ids...)
}

func (p *LifecycleProcessor) promotePending(ctx context.Context, sum *TickSummary) {
	pending, err := p.stores.Pools.ListByStatus(ctx, domain.PoolStatusPendingPromotion, domain.ListOpts{})
	if err != nil {
		p.fail(ctx, sum, "list pending promotions", err)
		return
	}
	for _, pool := range pending {
		_, ok, err := p.registry.Promote(ctx, pool.ID)
		if err != nil {
			p.fail(ctx, sum, "promote "+pool.ID, err)
			continue
		}
		if ok {
			sum.Promoted++
		}
	}
}

// retireExpired completes active pools whose feature window has passed.
// Their slot keeps showing the target until the next promotion replaces it.
func (p *LifecycleProcessor) retireExpired(ctx context.Context, now time.Time, sum *TickSummary) {
	active, err := p.stores.Pools.ListByStatus(ctx, domain.PoolStatusActive, domain.ListOpts{})
	if err != nil {
		p.fail(ctx, sum, "list active pools", err)
		return
	}
	for _, candidate := range active {
		if !candidate.FeatureExpired(now) {
			continue
		}
		var retired *domain.Pool
		err := p.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
			retired = nil
			pool, err := p.stores.Pools.GetForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if pool.Status != domain.PoolStatusActive || !pool.FeatureExpired(now) {
				return nil
			}
			if err := p.setStatus(ctx, &pool, domain.PoolStatusCompleted, now); err != nil {
				return err
			}
			retired = &pool
			return p.stores.Audit.Log(ctx, domain.AuditEntry{
				Event:  domain.AuditPoolRetired,
				PoolID: pool.ID,
				Detail: map[string]any{"target_id": pool.TargetID},
			})
		})
		if err != nil {
			p.fail(ctx, sum, "retire "+candidate.ID, err)
			continue
		}
		if retired != nil {
			sum.Retired++
			p.events.invalidate(ctx, retired.ID)
			p.events.publish(ctx, domain.ChannelPools, EventPoolRetired, *retired)
		}
	}
}

func (p *LifecycleProcessor) fail(ctx context.Context, sum *TickSummary, step string, err error) {
	p.logger.WarnContext(ctx, "lifecycle step failed",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
	sum.Failures = append(sum.Failures, step+": "+err.Error())
}

// Run ticks every interval until ctx is cancelled.
func (p *LifecycleProcessor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunTick(ctx); err != nil && ctx.Err() == nil {
			p.logger.ErrorContext(ctx, "lifecycle tick failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
