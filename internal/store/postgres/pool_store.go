package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

const poolColumns = `id, target_id, status, total_pooled, ends_at, original_ends_at,
	last_bid_at, top_contributor, feature_starts_at, feature_ends_at, won_at, created_at, updated_at`

// PoolStore implements domain.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Create inserts a pool. A second bidding pool for the same target violates
// pools_one_bidding_per_target and returns domain.ErrAlreadyExists.
func (s *PoolStore) Create(ctx context.Context, p domain.Pool) error {
	const query = `
		INSERT INTO pools (
			id, target_id, status, total_pooled, ends_at, original_ends_at,
			last_bid_at, top_contributor, feature_starts_at, feature_ends_at,
			won_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := conn(ctx, s.pool).Exec(ctx, query,
		p.ID, p.TargetID, string(p.Status), p.TotalPooled, p.EndsAt, p.OriginalEndsAt,
		p.LastBidAt, p.TopContributor, p.FeatureStartsAt, p.FeatureEndsAt,
		p.WonAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create pool for target %s: %w", p.TargetID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create pool %s: %w", p.ID, err)
	}
	return nil
}

// Update writes every mutable column of a pool.
func (s *PoolStore) Update(ctx context.Context, p domain.Pool) error {
	const query = `
		UPDATE pools SET
			status = $2, total_pooled = $3, ends_at = $4, last_bid_at = $5,
			top_contributor = $6, feature_starts_at = $7, feature_ends_at = $8,
			won_at = $9, updated_at = $10
		WHERE id = $1`

	tag, err := conn(ctx, s.pool).Exec(ctx, query,
		p.ID, string(p.Status), p.TotalPooled, p.EndsAt, p.LastBidAt,
		p.TopContributor, p.FeatureStartsAt, p.FeatureEndsAt, p.WonAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: update pool %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: update pool %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update pool %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *PoolStore) GetByID(ctx context.Context, id string) (domain.Pool, error) {
	return s.getOne(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = $1`, id)
}

func (s *PoolStore) GetForUpdate(ctx context.Context, id string) (domain.Pool, error) {
	return s.getOne(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = $1 FOR UPDATE`, id)
}

func (s *PoolStore) GetBiddingByTargetForUpdate(ctx context.Context, targetID string) (domain.Pool, error) {
	return s.getOne(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE target_id = $1 AND status = 'bidding' FOR UPDATE`,
		targetID,
	)
}

func (s *PoolStore) getOne(ctx context.Context, query, arg string) (domain.Pool, error) {
	p, err := scanPool(conn(ctx, s.pool).QueryRow(ctx, query, arg))
	if err != nil {
		if notFound(err) {
			return domain.Pool{}, fmt.Errorf("postgres: get pool %s: %w", arg, domain.ErrNotFound)
		}
		return domain.Pool{}, fmt.Errorf("postgres: get pool %s: %w", arg, err)
	}
	return p, nil
}

// ListByStatus returns pools in the given status ordered by creation time.
func (s *PoolStore) ListByStatus(ctx context.Context, status domain.PoolStatus, opts domain.ListOpts) ([]domain.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE status = $1`
	args := []any{string(status)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY created_at, id"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return s.list(ctx, query, args...)
}

// ListEnded returns every bidding pool whose close time has passed.
func (s *PoolStore) ListEnded(ctx context.Context, now time.Time) ([]domain.Pool, error) {
	return s.list(ctx,
		`SELECT `+poolColumns+` FROM pools
		 WHERE status = 'bidding' AND ends_at <= $1
		 ORDER BY created_at, id`,
		now,
	)
}

func (s *PoolStore) ListStatusForUpdate(ctx context.Context, status domain.PoolStatus) ([]domain.Pool, error) {
	return s.list(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE status = $1 ORDER BY created_at, id FOR UPDATE`,
		string(status),
	)
}

// LastWonAt returns the most recent winner selection time, or the zero time.
func (s *PoolStore) LastWonAt(ctx context.Context) (time.Time, error) {
	var last *time.Time
	if err := conn(ctx, s.pool).QueryRow(ctx, `SELECT max(won_at) FROM pools`).Scan(&last); err != nil {
		return time.Time{}, fmt.Errorf("postgres: last won at: %w", err)
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}

func (s *PoolStore) ListCompletedBetween(ctx context.Context, since, before time.Time) ([]domain.Pool, error) {
	return s.list(ctx,
		`SELECT `+poolColumns+` FROM pools
		 WHERE status = 'completed' AND updated_at >= $1 AND updated_at < $2
		 ORDER BY created_at, id`,
		since, before,
	)
}

func (s *PoolStore) list(ctx context.Context, query string, args ...any) ([]domain.Pool, error) {
	rows, err := conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pools rows: %w", err)
	}
	return pools, nil
}

func scanPool(row pgx.Row) (domain.Pool, error) {
	var p domain.Pool
	var status string
	err := row.Scan(
		&p.ID, &p.TargetID, &status, &p.TotalPooled, &p.EndsAt, &p.OriginalEndsAt,
		&p.LastBidAt, &p.TopContributor, &p.FeatureStartsAt, &p.FeatureEndsAt,
		&p.WonAt, &p.CreatedAt, &p.UpdatedAt,
	)
	p.Status = domain.PoolStatus(status)
	return p, err
}
