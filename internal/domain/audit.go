package domain

import (
	"fmt"
	"time"
)

// AuditEvent names a state change recorded in the audit log.
type AuditEvent string

const (
	AuditBidPlaced       AuditEvent = "bid.placed"
	AuditBidRefunded     AuditEvent = "bid.refunded"
	AuditPoolWon         AuditEvent = "pool.won"
	AuditPoolPromoted    AuditEvent = "pool.promoted"
	AuditPoolRetired     AuditEvent = "pool.retired"
	AuditMarkForRefund   AuditEvent = "admin.mark_for_refund"
	AuditRefundAddress   AuditEvent = "admin.refund_address"
	AuditReconcilePool   AuditEvent = "admin.reconcile_pool"
	AuditRepairOrphan    AuditEvent = "admin.repair_orphan"
	AuditForcePoolStatus AuditEvent = "admin.force_pool_status"
	AuditDeposit         AuditEvent = "admin.deposit"
	AuditArchiveRounds   AuditEvent = "archive.rounds"
)

var auditEvents = map[AuditEvent]bool{
	AuditBidPlaced:       true,
	AuditBidRefunded:     true,
	AuditPoolWon:         true,
	AuditPoolPromoted:    true,
	AuditPoolRetired:     true,
	AuditMarkForRefund:   true,
	AuditRefundAddress:   true,
	AuditReconcilePool:   true,
	AuditRepairOrphan:    true,
	AuditForcePoolStatus: true,
	AuditDeposit:         true,
	AuditArchiveRounds:   true,
}

func (e AuditEvent) Valid() bool { return auditEvents[e] }

// ParseAuditEvent accepts the wire name of an audit event.
func ParseAuditEvent(s string) (AuditEvent, error) {
	e := AuditEvent(s)
	if !e.Valid() {
		return "", fmt.Errorf("domain: %q: %w", s, ErrUnknownAuditEvent)
	}
	return e, nil
}

// AuditEntry is a single audit log row. PoolID, BidID and Actor are the
// indexed subjects; everything else goes in Detail.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     AuditEvent     `json:"event"`
	PoolID    string         `json:"pool_id,omitempty"`
	BidID     string         `json:"bid_id,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditFilter narrows an audit listing. Zero fields match everything.
type AuditFilter struct {
	ListOpts
	Event  AuditEvent
	PoolID string
}

// Matches reports whether e passes the filter's event and pool constraints.
// Time range and paging are applied separately.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.Event != "" && e.Event != f.Event {
		return false
	}
	if f.PoolID != "" && e.PoolID != f.PoolID {
		return false
	}
	return true
}
