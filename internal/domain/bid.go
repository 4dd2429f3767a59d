package domain

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BidStatus tracks a contribution from placement to settlement.
type BidStatus string

const (
	BidStatusActive        BidStatus = "active"
	BidStatusOutbid        BidStatus = "outbid"
	BidStatusRefunded      BidStatus = "refunded"
	BidStatusWon           BidStatus = "won"
	BidStatusPendingRefund BidStatus = "pending_refund"
)

// Refundable reports whether funds for a bid in this status are still held
// and owed back to the contributor.
func (s BidStatus) Refundable() bool {
	switch s {
	case BidStatusActive, BidStatusOutbid, BidStatusPendingRefund:
		return true
	default:
		return false
	}
}

// FundingSource says where a contribution's funds came from.
type FundingSource string

const (
	FundingBalance FundingSource = "balance"
	FundingOnChain FundingSource = "onchain"
)

// Bid is one contributor's (possibly merged) contribution to a pool.
type Bid struct {
	ID           string        `json:"id"`
	PoolID       string        `json:"pool_id"`
	Contributor  string        `json:"contributor"`
	Amount       int64         `json:"amount"`
	Status       BidStatus     `json:"status"`
	Funding      FundingSource `json:"funding"`
	Proof        string        `json:"proof"`
	PlacedAt     time.Time     `json:"placed_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	RefundedAt   *time.Time    `json:"refunded_at,omitempty"`
	RefundAmount int64         `json:"refund_amount,omitempty"`
}

// Transition moves the bid to the given status if the transition table
// allows it.
func (b *Bid) Transition(to BidStatus) error {
	if err := checkBidTransition(b.Status, to); err != nil {
		return err
	}
	b.Status = to
	return nil
}

// MarkRefunded records a completed refund of the full bid amount.
func (b *Bid) MarkRefunded(now time.Time) error {
	if err := b.Transition(BidStatusRefunded); err != nil {
		return err
	}
	b.RefundedAt = &now
	b.RefundAmount = b.Amount
	b.UpdatedAt = now
	return nil
}

// BidReceipt is returned to the caller after a contribution is committed.
type BidReceipt struct {
	PoolID           string    `json:"pool_id"`
	BidID            string    `json:"bid_id"`
	PoolTotal        int64     `json:"pool_total"`
	ContributorTotal int64     `json:"contributor_total"`
	EndsAt           time.Time `json:"ends_at"`
	Extended         bool      `json:"extended"`
}

// NormalizeContributor canonicalises contributor identifiers. Hex addresses
// are checksummed so the same wallet never maps to two ledger accounts.
func NormalizeContributor(id string) string {
	id = strings.TrimSpace(id)
	if common.IsHexAddress(id) {
		return common.HexToAddress(id).Hex()
	}
	return id
}
