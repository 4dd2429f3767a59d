package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Transactor runs fn inside a single database transaction. Stores called
// with the context passed to fn join that transaction; nested calls reuse
// the outer one. A non-nil error from fn rolls everything back.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PoolStore persists pools. The ...ForUpdate methods take row locks and are
// only meaningful inside WithTx.
type PoolStore interface {
	Create(ctx context.Context, pool Pool) error
	Update(ctx context.Context, pool Pool) error
	GetByID(ctx context.Context, id string) (Pool, error)
	GetForUpdate(ctx context.Context, id string) (Pool, error)
	// GetBiddingByTargetForUpdate returns the open pool for a target, or
	// ErrNotFound when the target has none.
	GetBiddingByTargetForUpdate(ctx context.Context, targetID string) (Pool, error)
	ListByStatus(ctx context.Context, status PoolStatus, opts ListOpts) ([]Pool, error)
	// ListEnded returns bidding pools whose close time has passed. It takes
	// no locks; callers re-check each pool with GetForUpdate.
	ListEnded(ctx context.Context, now time.Time) ([]Pool, error)
	ListStatusForUpdate(ctx context.Context, status PoolStatus) ([]Pool, error)
	// LastWonAt returns the latest WonAt of any pool, or the zero time.
	LastWonAt(ctx context.Context) (time.Time, error)
	// ListCompletedBetween returns completed pools last updated in [since, before).
	ListCompletedBetween(ctx context.Context, since, before time.Time) ([]Pool, error)
}

// BidStore persists bids.
type BidStore interface {
	Create(ctx context.Context, bid Bid) error
	Update(ctx context.Context, bid Bid) error
	GetByID(ctx context.Context, id string) (Bid, error)
	GetForUpdate(ctx context.Context, id string) (Bid, error)
	// GetActiveForUpdate returns the contributor's active bid in a pool, or
	// ErrNotFound.
	GetActiveForUpdate(ctx context.Context, poolID, contributor string) (Bid, error)
	ListByPool(ctx context.Context, poolID string) ([]Bid, error)
	ListByStatus(ctx context.Context, status BidStatus, limit int) ([]Bid, error)
	ListByContributor(ctx context.Context, contributor string, opts ListOpts) ([]Bid, error)
	ListByContributorStatus(ctx context.Context, contributor string, status BidStatus) ([]Bid, error)
	// TransitionByPool moves every bid of a pool in status from to status to
	// and returns the updated rows.
	TransitionByPool(ctx context.Context, poolID string, from, to BidStatus) ([]Bid, error)
	// SumLive returns the sum of active and won bid amounts for a pool.
	SumLive(ctx context.Context, poolID string) (int64, error)
	// ListOrphaned returns active bids whose pool is completed.
	ListOrphaned(ctx context.Context) ([]Bid, error)
}

// SlotStore persists the featured-slot registry.
type SlotStore interface {
	// Ensure creates empty rows for indices [0, size) that do not exist.
	Ensure(ctx context.Context, size int) error
	List(ctx context.Context) ([]FeaturedSlot, error)
	ListForUpdate(ctx context.Context) ([]FeaturedSlot, error)
	Upsert(ctx context.Context, slot FeaturedSlot) error
}

// Ledger is the single entry point for internal balance mutation. Amounts
// are integer minor units.
type Ledger interface {
	Balance(ctx context.Context, account string) (int64, error)
	// Debit removes amount, failing with ErrInsufficientBalance when the
	// account cannot cover it. A missing account has a zero balance.
	Debit(ctx context.Context, account string, amount int64) error
	// Credit adds amount to an existing account, failing with
	// ErrAccountNotFound otherwise.
	Credit(ctx context.Context, account string, amount int64) error
	EnsureAccount(ctx context.Context, account string) error
}

// ProofStore records consumed idempotency proofs.
type ProofStore interface {
	Exists(ctx context.Context, proof string) (bool, error)
	// Consume records the proof, returning ErrDuplicateProof if it was
	// already used.
	Consume(ctx context.Context, proof, bidID string) error
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	// Log rejects entries whose event is not a known AuditEvent.
	Log(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}
