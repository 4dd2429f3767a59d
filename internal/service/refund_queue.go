package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/spotlight/internal/clock"
)

const (
	defaultRefundStagger  = 200 * time.Millisecond
	defaultRefundCapacity = 4096
	refundDedupTTL        = 15 * time.Minute
)

// Refunder issues one refund.
type Refunder interface {
	Refund(ctx context.Context, bidID string) (int64, error)
}

// RefundQueue issues scheduled refunds one at a time with a fixed gap
// between them, bounding the ledger write rate. A bid already queued is not
// queued again; bids that fail or do not fit are forgotten so the next
// lifecycle sweep can reschedule them.
type RefundQueue struct {
	refunder Refunder
	stagger  time.Duration
	queue    chan string
	dedup    *Dedup
	logger   *slog.Logger
}

func NewRefundQueue(refunder Refunder, stagger time.Duration, capacity int, clk clock.Clock, logger *slog.Logger) *RefundQueue {
	if stagger < 0 {
		stagger = defaultRefundStagger
	}
	if capacity <= 0 {
		capacity = defaultRefundCapacity
	}
	return &RefundQueue{
		refunder: refunder,
		stagger:  stagger,
		queue:    make(chan string, capacity),
		dedup:    NewDedup(refundDedupTTL, clk),
		logger:   logger.With(slog.String("component", "refund_queue")),
	}
}

// Schedule queues bid IDs and returns how many were newly queued.
func (q *RefundQueue) Schedule(bidIDs ...string) int {
	n := 0
	for _, id := range bidIDs {
		if q.dedup.IsDuplicate(id) {
			continue
		}
		select {
		case q.queue <- id:
			n++
		default:
			q.dedup.Forget(id)
			q.logger.Warn("refund queue full, deferring to next sweep", slog.String("bid_id", id))
		}
	}
	return n
}

// Pending returns the number of queued refunds.
func (q *RefundQueue) Pending() int {
	return len(q.queue)
}

// Run issues queued refunds until ctx is cancelled.
func (q *RefundQueue) Run(ctx context.Context) error {
	cleanup := time.NewTicker(refundDedupTTL)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanup.C:
			q.dedup.Cleanup()
		case id := <-q.queue:
			q.issue(ctx, id)
			if err := q.pause(ctx); err != nil {
				return err
			}
		}
	}
}

// Drain issues everything currently queued, still honouring the stagger,
// and returns the number of refunds attempted.
func (q *RefundQueue) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case id := <-q.queue:
			if n > 0 {
				if err := q.pause(ctx); err != nil {
					return n, err
				}
			}
			q.issue(ctx, id)
			n++
		default:
			return n, nil
		}
	}
}

func (q *RefundQueue) issue(ctx context.Context, id string) {
	defer q.dedup.Forget(id)

	credited, err := q.refunder.Refund(ctx, id)
	if err != nil {
		q.logger.WarnContext(ctx, "scheduled refund failed",
			slog.String("bid_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	q.logger.DebugContext(ctx, "scheduled refund issued",
		slog.String("bid_id", id),
		slog.Int64("credited", credited),
	)
}

func (q *RefundQueue) pause(ctx context.Context) error {
	if q.stagger == 0 {
		return nil
	}
	t := time.NewTimer(q.stagger)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
