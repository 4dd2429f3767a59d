// Package memory implements the domain store interfaces in process memory.
// It backs the service tests and the "memory" database backend used for
// local runs. Transactions are serialized on a single mutex, so every
// ...ForUpdate read is trivially locked for the lifetime of the transaction.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

type txKey struct{}

// Store holds every table. The zero value is not usable; call New.
type Store struct {
	mu sync.Mutex

	pools    map[string]domain.Pool
	bids     map[string]domain.Bid
	slots    map[int]domain.FeaturedSlot
	balances map[string]int64
	proofs   map[string]string
	targets  map[string]domain.Target
	audit    []domain.AuditEntry
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		pools:    make(map[string]domain.Pool),
		bids:     make(map[string]domain.Bid),
		slots:    make(map[int]domain.FeaturedSlot),
		balances: make(map[string]int64),
		proofs:   make(map[string]string),
		targets:  make(map[string]domain.Target),
	}
}

type snapshot struct {
	pools    map[string]domain.Pool
	bids     map[string]domain.Bid
	slots    map[int]domain.FeaturedSlot
	balances map[string]int64
	proofs   map[string]string
	targets  map[string]domain.Target
	audit    []domain.AuditEntry
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		pools:    maps.Clone(s.pools),
		bids:     maps.Clone(s.bids),
		slots:    maps.Clone(s.slots),
		balances: maps.Clone(s.balances),
		proofs:   maps.Clone(s.proofs),
		targets:  maps.Clone(s.targets),
		audit:    append([]domain.AuditEntry(nil), s.audit...),
	}
}

func (s *Store) restore(snap snapshot) {
	s.pools = snap.pools
	s.bids = snap.bids
	s.slots = snap.slots
	s.balances = snap.balances
	s.proofs = snap.proofs
	s.targets = snap.targets
	s.audit = snap.audit
}

// WithTx implements domain.Transactor. Changes made by fn are discarded if
// it returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// enter locks the store for a single operation unless ctx already carries
// this store's transaction.
func (s *Store) enter(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// SetBalance overwrites an account balance, creating the account.
func (s *Store) SetBalance(account string, amount int64) {
	s.mu.Lock()
	s.balances[account] = amount
	s.mu.Unlock()
}

// Pools returns the pool table.
func (s *Store) Pools() *PoolStore { return &PoolStore{s: s} }

// Bids returns the bid table.
func (s *Store) Bids() *BidStore { return &BidStore{s: s} }

// Slots returns the featured-slot table.
func (s *Store) Slots() *SlotStore { return &SlotStore{s: s} }

// Ledger returns the balance table.
func (s *Store) Ledger() *Ledger { return &Ledger{s: s} }

// Proofs returns the consumed-proof table.
func (s *Store) Proofs() *ProofStore { return &ProofStore{s: s} }

// Targets returns the target directory.
func (s *Store) Targets() *TargetStore { return &TargetStore{s: s} }

// Audit returns the audit log.
func (s *Store) Audit() *AuditStore { return &AuditStore{s: s} }

func sortPools(pools []domain.Pool) {
	sort.Slice(pools, func(i, j int) bool {
		if !pools[i].CreatedAt.Equal(pools[j].CreatedAt) {
			return pools[i].CreatedAt.Before(pools[j].CreatedAt)
		}
		return pools[i].ID < pools[j].ID
	})
}

func sortBids(bids []domain.Bid) {
	sort.Slice(bids, func(i, j int) bool {
		if !bids[i].PlacedAt.Equal(bids[j].PlacedAt) {
			return bids[i].PlacedAt.Before(bids[j].PlacedAt)
		}
		return bids[i].ID < bids[j].ID
	})
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

func inRange(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}
