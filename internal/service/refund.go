package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/spotlight/internal/clock"
	"github.com/alanyoungcy/spotlight/internal/domain"
)

// RefundIssuer returns held funds to contributors. A bid is credited at most
// once: the credit and the move to refunded commit together under the bid's
// row lock, and a bid that is no longer refundable is a no-op.
type RefundIssuer struct {
	stores Stores
	events publisher
	clock  clock.Clock
	logger *slog.Logger
}

func NewRefundIssuer(stores Stores, bus domain.SignalBus, clk clock.Clock, logger *slog.Logger) *RefundIssuer {
	logger = logger.With(slog.String("component", "refunds"))
	return &RefundIssuer{
		stores: stores,
		events: publisher{bus: bus, clock: clk, logger: logger},
		clock:  clk,
		logger: logger,
	}
}

// Refund credits the bid's amount back to its contributor and returns the
// amount credited, or 0 if the bid was already settled.
func (r *RefundIssuer) Refund(ctx context.Context, bidID string) (int64, error) {
	var refunded domain.Bid
	err := r.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
		bid, err := r.stores.Bids.GetForUpdate(ctx, bidID)
		if err != nil {
			return err
		}
		if !bid.Status.Refundable() {
			return nil
		}

		pool, err := r.stores.Pools.GetByID(ctx, bid.PoolID)
		if err != nil {
			return err
		}
		if pool.Status != domain.PoolStatusCompleted {
			return fmt.Errorf("bid %s in %s pool %s: %w", bid.ID, pool.Status, pool.ID, domain.ErrPoolNotSettled)
		}

		if err := r.stores.Ledger.Credit(ctx, bid.Contributor, bid.Amount); err != nil {
			return err
		}
		if err := bid.MarkRefunded(r.clock.Now()); err != nil {
			return err
		}
		if err := r.stores.Bids.Update(ctx, bid); err != nil {
			return err
		}
		refunded = bid
		return r.stores.Audit.Log(ctx, domain.AuditEntry{
			Event:  domain.AuditBidRefunded,
			PoolID: bid.PoolID,
			BidID:  bid.ID,
			Actor:  bid.Contributor,
			Detail: map[string]any{"amount": bid.RefundAmount},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("service: refund bid %s: %w", bidID, err)
	}
	if refunded.ID == "" {
		return 0, nil
	}

	r.events.publish(ctx, domain.ChannelBids, EventBidRefunded, refunded)
	r.logger.InfoContext(ctx, "bid refunded",
		slog.String("bid_id", refunded.ID),
		slog.String("contributor", refunded.Contributor),
		slog.Int64("amount", refunded.RefundAmount),
	)
	return refunded.RefundAmount, nil
}

// RefundBatch summarises a multi-bid refund pass.
type RefundBatch struct {
	Address  string   `json:"address"`
	Refunded int      `json:"refunded"`
	Credited int64    `json:"credited"`
	Failed   []string `json:"failed,omitempty"`
}

// RefundAddress refunds every pending_refund bid of one address. Failures
// are recorded per bid and do not stop the pass.
func (r *RefundIssuer) RefundAddress(ctx context.Context, address string) (RefundBatch, error) {
	address = domain.NormalizeContributor(address)
	batch := RefundBatch{Address: address}

	bids, err := r.stores.Bids.ListByContributorStatus(ctx, address, domain.BidStatusPendingRefund)
	if err != nil {
		return batch, fmt.Errorf("service: refund address %s: %w", address, err)
	}
	for _, b := range bids {
		credited, err := r.Refund(ctx, b.ID)
		if err != nil {
			r.logger.WarnContext(ctx, "batch refund item failed",
				slog.String("bid_id", b.ID),
				slog.String("error", err.Error()),
			)
			batch.Failed = append(batch.Failed, b.ID)
			continue
		}
		if credited > 0 {
			batch.Refunded++
			batch.Credited += credited
		}
	}
	return batch, nil
}
