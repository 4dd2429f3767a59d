package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

// Ledger implements domain.Ledger.
type Ledger struct {
	s *Store
}

func (l *Ledger) Balance(ctx context.Context, account string) (int64, error) {
	defer l.s.enter(ctx)()

	bal, ok := l.s.balances[account]
	if !ok {
		return 0, fmt.Errorf("memory: balance %s: %w", account, domain.ErrAccountNotFound)
	}
	return bal, nil
}

func (l *Ledger) Debit(ctx context.Context, account string, amount int64) error {
	defer l.s.enter(ctx)()

	if amount <= 0 {
		return fmt.Errorf("memory: debit %s: %w", account, domain.ErrInvalidBid)
	}
	if l.s.balances[account] < amount {
		return fmt.Errorf("memory: debit %s: %w", account, domain.ErrInsufficientBalance)
	}
	l.s.balances[account] -= amount
	return nil
}

func (l *Ledger) Credit(ctx context.Context, account string, amount int64) error {
	defer l.s.enter(ctx)()

	if _, ok := l.s.balances[account]; !ok {
		return fmt.Errorf("memory: credit %s: %w", account, domain.ErrAccountNotFound)
	}
	l.s.balances[account] += amount
	return nil
}

func (l *Ledger) EnsureAccount(ctx context.Context, account string) error {
	defer l.s.enter(ctx)()

	if _, ok := l.s.balances[account]; !ok {
		l.s.balances[account] = 0
	}
	return nil
}

// ProofStore implements domain.ProofStore.
type ProofStore struct {
	s *Store
}

func (p *ProofStore) Exists(ctx context.Context, proof string) (bool, error) {
	defer p.s.enter(ctx)()

	_, ok := p.s.proofs[proof]
	return ok, nil
}

func (p *ProofStore) Consume(ctx context.Context, proof, bidID string) error {
	defer p.s.enter(ctx)()

	if _, ok := p.s.proofs[proof]; ok {
		return fmt.Errorf("memory: consume proof: %w", domain.ErrDuplicateProof)
	}
	p.s.proofs[proof] = bidID
	return nil
}

// SlotStore implements domain.SlotStore.
type SlotStore struct {
	s *Store
}

func (ss *SlotStore) Ensure(ctx context.Context, size int) error {
	defer ss.s.enter(ctx)()

	for i := 0; i < size; i++ {
		if _, ok := ss.s.slots[i]; !ok {
			ss.s.slots[i] = domain.FeaturedSlot{SlotIndex: i}
		}
	}
	return nil
}

func (ss *SlotStore) List(ctx context.Context) ([]domain.FeaturedSlot, error) {
	defer ss.s.enter(ctx)()
	return ss.list(), nil
}

func (ss *SlotStore) ListForUpdate(ctx context.Context) ([]domain.FeaturedSlot, error) {
	defer ss.s.enter(ctx)()
	return ss.list(), nil
}

func (ss *SlotStore) list() []domain.FeaturedSlot {
	out := make([]domain.FeaturedSlot, 0, len(ss.s.slots))
	for _, slot := range ss.s.slots {
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotIndex < out[j].SlotIndex })
	return out
}

func (ss *SlotStore) Upsert(ctx context.Context, slot domain.FeaturedSlot) error {
	defer ss.s.enter(ctx)()

	ss.s.slots[slot.SlotIndex] = slot
	return nil
}

// TargetStore implements domain.TargetDirectory.
type TargetStore struct {
	s *Store
}

func (t *TargetStore) Lookup(ctx context.Context, id string) (domain.Target, error) {
	defer t.s.enter(ctx)()

	target, ok := t.s.targets[id]
	if !ok {
		return domain.Target{}, fmt.Errorf("memory: lookup target %s: %w", id, domain.ErrNotFound)
	}
	return target, nil
}

func (t *TargetStore) Upsert(ctx context.Context, target domain.Target) error {
	defer t.s.enter(ctx)()

	t.s.targets[target.ID] = target
	return nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	s *Store
}

func (a *AuditStore) Log(ctx context.Context, entry domain.AuditEntry) error {
	if !entry.Event.Valid() {
		return fmt.Errorf("memory: log audit %q: %w", entry.Event, domain.ErrUnknownAuditEvent)
	}
	defer a.s.enter(ctx)()

	entry.ID = int64(len(a.s.audit) + 1)
	entry.CreatedAt = time.Now().UTC()
	a.s.audit = append(a.s.audit, entry)
	return nil
}

// List returns matching entries newest first.
func (a *AuditStore) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	defer a.s.enter(ctx)()

	var out []domain.AuditEntry
	for i := len(a.s.audit) - 1; i >= 0; i-- {
		e := a.s.audit[i]
		if inRange(e.CreatedAt, filter.ListOpts) && filter.Matches(e) {
			out = append(out, e)
		}
	}
	return page(out, filter.ListOpts), nil
}
