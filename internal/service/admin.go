package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/spotlight/internal/clock"
	"github.com/alanyoungcy/spotlight/internal/domain"
)

// adminActor is recorded as the actor of operator repairs.
const adminActor = "admin"

// Reconciliation compares a pool's recorded total with its live bids.
type Reconciliation struct {
	PoolID   string            `json:"pool_id"`
	Status   domain.PoolStatus `json:"status"`
	Recorded int64             `json:"recorded"`
	Live     int64             `json:"live"`
	Fixed    bool              `json:"fixed"`
}

// Consistent reports whether the recorded total matches the live bids.
func (r Reconciliation) Consistent() bool { return r.Recorded == r.Live }

// AdminService holds the manual repair tools. Every status change goes
// through the domain transition table and every mutation is audited.
type AdminService struct {
	stores   Stores
	refunds  *RefundIssuer
	archiver domain.Archiver
	blobs    domain.BlobReader
	clock    clock.Clock
	logger   *slog.Logger
}

func NewAdminService(stores Stores, refunds *RefundIssuer, clk clock.Clock, logger *slog.Logger) *AdminService {
	return &AdminService{
		stores:  stores,
		refunds: refunds,
		clock:   clk,
		logger:  logger.With(slog.String("component", "admin")),
	}
}

// WithArchive enables Archive and ListArchives.
func (a *AdminService) WithArchive(archiver domain.Archiver, blobs domain.BlobReader) *AdminService {
	a.archiver = archiver
	a.blobs = blobs
	return a
}

// MarkForRefund queues an active or outbid bid of a completed pool for the
// batch refund helper.
func (a *AdminService) MarkForRefund(ctx context.Context, bidID string) (domain.Bid, error) {
	var out domain.Bid
	err := a.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
		bid, err := a.stores.Bids.GetForUpdate(ctx, bidID)
		if err != nil {
			return err
		}
		pool, err := a.stores.Pools.GetByID(ctx, bid.PoolID)
		if err != nil {
			return err
		}
		if pool.Status != domain.PoolStatusCompleted {
			return fmt.Errorf("pool %s is %s: %w", pool.ID, pool.Status, domain.ErrPoolNotSettled)
		}
		from := bid.Status
		if err := bid.Transition(domain.BidStatusPendingRefund); err != nil {
			return err
		}
		bid.UpdatedAt = a.clock.Now()
		if err := a.stores.Bids.Update(ctx, bid); err != nil {
			return err
		}
		out = bid
		return a.stores.Audit.Log(ctx, domain.AuditEntry{
			Event:  domain.AuditMarkForRefund,
			PoolID: bid.PoolID,
			BidID:  bid.ID,
			Actor:  adminActor,
			Detail: map[string]any{"from": string(from)},
		})
	})
	if err != nil {
		return domain.Bid{}, fmt.Errorf("service: mark bid %s for refund: %w", bidID, err)
	}
	return out, nil
}

// RefundAddress runs the batch refund helper for one address.
func (a *AdminService) RefundAddress(ctx context.Context, address string) (RefundBatch, error) {
	batch, err := a.refunds.RefundAddress(ctx, address)
	if err != nil {
		return batch, err
	}
	if err := a.stores.Audit.Log(ctx, domain.AuditEntry{
		Event: domain.AuditRefundAddress,
		Actor: adminActor,
		Detail: map[string]any{
			"address":  batch.Address,
			"refunded": batch.Refunded,
			"credited": batch.Credited,
			"failed":   len(batch.Failed),
		},
	}); err != nil {
		a.logger.WarnContext(ctx, "audit refund address", slog.String("error", err.Error()))
	}
	return batch, nil
}

// ReconcilePool compares TotalPooled with the sum of active and won bids.
// With fix set, a bidding pool's total is rewritten to the live sum; totals
// of pools that left bidding are frozen and cannot be fixed.
func (a *AdminService) ReconcilePool(ctx context.Context, poolID string, fix bool) (Reconciliation, error) {
	var rec Reconciliation
	err := a.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
		pool, err := a.stores.Pools.GetForUpdate(ctx, poolID)
		if err != nil {
			return err
		}
		live, err := a.stores.Bids.SumLive(ctx, pool.ID)
		if err != nil {
			return err
		}
		rec = Reconciliation{PoolID: pool.ID, Status: pool.Status, Recorded: pool.TotalPooled, Live: live}
		if !fix || rec.Consistent() {
			return nil
		}
		if pool.Status != domain.PoolStatusBidding {
			return fmt.Errorf("total of %s pool is frozen: %w", pool.Status, domain.ErrIllegalTransition)
		}
		pool.TotalPooled = live
		pool.UpdatedAt = a.clock.Now()
		if err := a.stores.Pools.Update(ctx, pool); err != nil {
			return err
		}
		rec.Fixed = true
		return a.stores.Audit.Log(ctx, domain.AuditEntry{
			Event:  domain.AuditReconcilePool,
			PoolID: pool.ID,
			Actor:  adminActor,
			Detail: map[string]any{"recorded": rec.Recorded, "live": live},
		})
	})
	if err != nil {
		return Reconciliation{}, fmt.Errorf("service: reconcile pool %s: %w", poolID, err)
	}
	return rec, nil
}

// FindOrphans lists active bids stranded in completed pools.
func (a *AdminService) FindOrphans(ctx context.Context) ([]domain.Bid, error) {
	bids, err := a.stores.Bids.ListOrphaned(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: find orphans: %w", err)
	}
	return bids, nil
}

// RepairOrphans marks orphaned bids outbid so the next lifecycle sweep
// refunds them. It returns the number repaired.
func (a *AdminService) RepairOrphans(ctx context.Context) (int, error) {
	orphans, err := a.FindOrphans(ctx)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for _, o := range orphans {
		changed := false
		err := a.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
			changed = false
			bid, err := a.stores.Bids.GetForUpdate(ctx, o.ID)
			if err != nil {
				return err
			}
			if bid.Status != domain.BidStatusActive {
				return nil
			}
			if err := bid.Transition(domain.BidStatusOutbid); err != nil {
				return err
			}
			bid.UpdatedAt = a.clock.Now()
			if err := a.stores.Bids.Update(ctx, bid); err != nil {
				return err
			}
			changed = true
			return a.stores.Audit.Log(ctx, domain.AuditEntry{
				Event:  domain.AuditRepairOrphan,
				PoolID: bid.PoolID,
				BidID:  bid.ID,
				Actor:  adminActor,
			})
		})
		if err != nil {
			a.logger.WarnContext(ctx, "repair orphan failed",
				slog.String("bid_id", o.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if changed {
			repaired++
		}
	}
	return repaired, nil
}

// ForcePoolStatus completes a pool by hand, e.g. one stuck in
// pending_promotion. Its bids move the way the lifecycle would move them:
// active bids of an open pool and won bids of an unfeatured winner become
// outbid so the next sweep refunds them, while a featured pool keeps its won
// bids. Promotion only ever happens through the lifecycle.
func (a *AdminService) ForcePoolStatus(ctx context.Context, poolID string, to domain.PoolStatus) (domain.Pool, error) {
	if !domain.ValidPoolStatus(to) {
		return domain.Pool{}, fmt.Errorf("service: force pool %s: %w: unknown status %q", poolID, domain.ErrIllegalTransition, to)
	}
	if to != domain.PoolStatusCompleted {
		return domain.Pool{}, fmt.Errorf("service: force pool %s: %w: only completion can be forced", poolID, domain.ErrIllegalTransition)
	}
	var out domain.Pool
	err := a.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
		pool, err := a.stores.Pools.GetForUpdate(ctx, poolID)
		if err != nil {
			return err
		}
		from := pool.Status
		if err := pool.Transition(to); err != nil {
			return err
		}
		pool.UpdatedAt = a.clock.Now()
		if err := a.stores.Pools.Update(ctx, pool); err != nil {
			return err
		}

		var released []domain.Bid
		switch from {
		case domain.PoolStatusBidding:
			released, err = a.stores.Bids.TransitionByPool(ctx, pool.ID, domain.BidStatusActive, domain.BidStatusOutbid)
		case domain.PoolStatusPendingPromotion:
			released, err = a.stores.Bids.TransitionByPool(ctx, pool.ID, domain.BidStatusWon, domain.BidStatusOutbid)
		}
		if err != nil {
			return err
		}
		out = pool
		return a.stores.Audit.Log(ctx, domain.AuditEntry{
			Event:  domain.AuditForcePoolStatus,
			PoolID: pool.ID,
			Actor:  adminActor,
			Detail: map[string]any{
				"from":          string(from),
				"to":            string(to),
				"bids_released": len(released),
			},
		})
	})
	if err != nil {
		return domain.Pool{}, fmt.Errorf("service: force pool %s: %w", poolID, err)
	}
	return out, nil
}

// Deposit credits an internal balance, opening the account if needed.
func (a *AdminService) Deposit(ctx context.Context, account string, amount int64) (int64, error) {
	account = domain.NormalizeContributor(account)
	if account == "" || amount <= 0 {
		return 0, fmt.Errorf("service: deposit: %w: account and positive amount required", domain.ErrInvalidBid)
	}
	var balance int64
	err := a.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
		if err := a.stores.Ledger.EnsureAccount(ctx, account); err != nil {
			return err
		}
		if err := a.stores.Ledger.Credit(ctx, account, amount); err != nil {
			return err
		}
		var err error
		if balance, err = a.stores.Ledger.Balance(ctx, account); err != nil {
			return err
		}
		return a.stores.Audit.Log(ctx, domain.AuditEntry{
			Event:  domain.AuditDeposit,
			Actor:  adminActor,
			Detail: map[string]any{"account": account, "amount": amount},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("service: deposit to %s: %w", account, err)
	}
	return balance, nil
}

// UpsertTarget registers or updates a featurable target.
func (a *AdminService) UpsertTarget(ctx context.Context, t domain.Target) error {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return fmt.Errorf("service: upsert target: %w: id is required", domain.ErrInvalidBid)
	}
	if t.OwnerAddress != "" {
		t.OwnerAddress = domain.NormalizeContributor(t.OwnerAddress)
	}
	if err := a.stores.Targets.Upsert(ctx, t); err != nil {
		return fmt.Errorf("service: upsert target %s: %w", t.ID, err)
	}
	return nil
}

// Archive exports completed rounds in [since, before) to object storage.
func (a *AdminService) Archive(ctx context.Context, since, before time.Time) (domain.ArchiveResult, error) {
	if a.archiver == nil {
		return domain.ArchiveResult{}, fmt.Errorf("service: archive: %w", domain.ErrUnavailable)
	}
	if !since.Before(before) {
		return domain.ArchiveResult{}, fmt.Errorf("service: archive: %w: since must precede before", domain.ErrInvalidBid)
	}
	res, err := a.archiver.ArchiveRounds(ctx, since, before)
	if err != nil {
		return res, fmt.Errorf("service: archive: %w", err)
	}
	return res, nil
}

// ListArchives lists stored archive objects.
func (a *AdminService) ListArchives(ctx context.Context, kind string) ([]domain.BlobInfo, error) {
	if a.blobs == nil {
		return nil, fmt.Errorf("service: list archives: %w", domain.ErrUnavailable)
	}
	prefix := "archive/"
	if kind != "" {
		prefix += kind + "/"
	}
	infos, err := a.blobs.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("service: list archives: %w", err)
	}
	return infos, nil
}

// AuditLog returns recent audit entries, newest first.
func (a *AdminService) AuditLog(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	entries, err := a.stores.Audit.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("service: audit log: %w", err)
	}
	return entries, nil
}
