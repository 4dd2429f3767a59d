package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

// SlotStore implements domain.SlotStore using PostgreSQL.
type SlotStore struct {
	pool *pgxpool.Pool
}

// NewSlotStore creates a new SlotStore backed by the given connection pool.
func NewSlotStore(pool *pgxpool.Pool) *SlotStore {
	return &SlotStore{pool: pool}
}

func (s *SlotStore) Ensure(ctx context.Context, size int) error {
	_, err := conn(ctx, s.pool).Exec(ctx,
		`INSERT INTO featured_slots (slot_index)
		 SELECT generate_series(0, $1 - 1)
		 ON CONFLICT (slot_index) DO NOTHING`,
		size,
	)
	if err != nil {
		return fmt.Errorf("postgres: ensure %d slots: %w", size, err)
	}
	return nil
}

func (s *SlotStore) List(ctx context.Context) ([]domain.FeaturedSlot, error) {
	return s.list(ctx, `SELECT slot_index, target_id, pool_id, promoted_at FROM featured_slots ORDER BY slot_index`)
}

// ListForUpdate locks every slot row so concurrent promotions serialize.
func (s *SlotStore) ListForUpdate(ctx context.Context) ([]domain.FeaturedSlot, error) {
	return s.list(ctx, `SELECT slot_index, target_id, pool_id, promoted_at FROM featured_slots ORDER BY slot_index FOR UPDATE`)
}

func (s *SlotStore) list(ctx context.Context, query string) ([]domain.FeaturedSlot, error) {
	rows, err := conn(ctx, s.pool).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list slots: %w", err)
	}
	defer rows.Close()

	var slots []domain.FeaturedSlot
	for rows.Next() {
		var slot domain.FeaturedSlot
		var promotedAt *time.Time
		if err := rows.Scan(&slot.SlotIndex, &slot.TargetID, &slot.PoolID, &promotedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan slot: %w", err)
		}
		if promotedAt != nil {
			slot.PromotedAt = *promotedAt
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list slots rows: %w", err)
	}
	return slots, nil
}

func (s *SlotStore) Upsert(ctx context.Context, slot domain.FeaturedSlot) error {
	var promotedAt *time.Time
	if !slot.PromotedAt.IsZero() {
		promotedAt = &slot.PromotedAt
	}
	_, err := conn(ctx, s.pool).Exec(ctx,
		`INSERT INTO featured_slots (slot_index, target_id, pool_id, promoted_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (slot_index) DO UPDATE SET
			target_id = EXCLUDED.target_id,
			pool_id = EXCLUDED.pool_id,
			promoted_at = EXCLUDED.promoted_at`,
		slot.SlotIndex, slot.TargetID, slot.PoolID, promotedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert slot %d: %w", slot.SlotIndex, err)
	}
	return nil
}

// TargetStore implements domain.TargetDirectory using PostgreSQL.
type TargetStore struct {
	pool *pgxpool.Pool
}

// NewTargetStore creates a new TargetStore backed by the given connection pool.
func NewTargetStore(pool *pgxpool.Pool) *TargetStore {
	return &TargetStore{pool: pool}
}

func (s *TargetStore) Lookup(ctx context.Context, id string) (domain.Target, error) {
	var t domain.Target
	err := conn(ctx, s.pool).QueryRow(ctx,
		`SELECT id, display_name, owner_address FROM targets WHERE id = $1`, id,
	).Scan(&t.ID, &t.DisplayName, &t.OwnerAddress)
	if err != nil {
		if notFound(err) {
			return domain.Target{}, fmt.Errorf("postgres: lookup target %s: %w", id, domain.ErrNotFound)
		}
		return domain.Target{}, fmt.Errorf("postgres: lookup target %s: %w", id, err)
	}
	return t, nil
}

func (s *TargetStore) Upsert(ctx context.Context, t domain.Target) error {
	_, err := conn(ctx, s.pool).Exec(ctx,
		`INSERT INTO targets (id, display_name, owner_address)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			owner_address = EXCLUDED.owner_address,
			updated_at = NOW()`,
		t.ID, t.DisplayName, t.OwnerAddress,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert target %s: %w", t.ID, err)
	}
	return nil
}
