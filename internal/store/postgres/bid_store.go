package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

const bidColumns = `id, pool_id, contributor, amount, status, funding, proof,
	placed_at, updated_at, refunded_at, refund_amount`

// BidStore implements domain.BidStore using PostgreSQL.
type BidStore struct {
	pool *pgxpool.Pool
}

// NewBidStore creates a new BidStore backed by the given connection pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

// Create inserts a bid. A second active bid for the same contributor and
// pool returns domain.ErrAlreadyExists.
func (s *BidStore) Create(ctx context.Context, b domain.Bid) error {
	const query = `
		INSERT INTO bids (
			id, pool_id, contributor, amount, status, funding, proof,
			placed_at, updated_at, refunded_at, refund_amount
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := conn(ctx, s.pool).Exec(ctx, query,
		b.ID, b.PoolID, b.Contributor, b.Amount, string(b.Status), string(b.Funding), b.Proof,
		b.PlacedAt, b.UpdatedAt, b.RefundedAt, b.RefundAmount,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create bid %s: %w", b.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create bid %s: %w", b.ID, err)
	}
	return nil
}

func (s *BidStore) Update(ctx context.Context, b domain.Bid) error {
	const query = `
		UPDATE bids SET
			amount = $2, status = $3, updated_at = $4, refunded_at = $5, refund_amount = $6
		WHERE id = $1`

	tag, err := conn(ctx, s.pool).Exec(ctx, query,
		b.ID, b.Amount, string(b.Status), b.UpdatedAt, b.RefundedAt, b.RefundAmount,
	)
	if err != nil {
		return fmt.Errorf("postgres: update bid %s: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update bid %s: %w", b.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *BidStore) GetByID(ctx context.Context, id string) (domain.Bid, error) {
	return s.getOne(ctx, id, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id)
}

func (s *BidStore) GetForUpdate(ctx context.Context, id string) (domain.Bid, error) {
	return s.getOne(ctx, id, `SELECT `+bidColumns+` FROM bids WHERE id = $1 FOR UPDATE`, id)
}

func (s *BidStore) GetActiveForUpdate(ctx context.Context, poolID, contributor string) (domain.Bid, error) {
	return s.getOne(ctx, contributor,
		`SELECT `+bidColumns+` FROM bids
		 WHERE pool_id = $1 AND contributor = $2 AND status = 'active' FOR UPDATE`,
		poolID, contributor,
	)
}

func (s *BidStore) getOne(ctx context.Context, label, query string, args ...any) (domain.Bid, error) {
	b, err := scanBid(conn(ctx, s.pool).QueryRow(ctx, query, args...))
	if err != nil {
		if notFound(err) {
			return domain.Bid{}, fmt.Errorf("postgres: get bid %s: %w", label, domain.ErrNotFound)
		}
		return domain.Bid{}, fmt.Errorf("postgres: get bid %s: %w", label, err)
	}
	return b, nil
}

func (s *BidStore) ListByPool(ctx context.Context, poolID string) ([]domain.Bid, error) {
	return s.list(ctx, `SELECT `+bidColumns+` FROM bids WHERE pool_id = $1 ORDER BY placed_at, id`, poolID)
}

func (s *BidStore) ListByStatus(ctx context.Context, status domain.BidStatus, limit int) ([]domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE status = $1 ORDER BY placed_at, id`
	args := []any{string(status)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.list(ctx, query, args...)
}

func (s *BidStore) ListByContributor(ctx context.Context, contributor string, opts domain.ListOpts) ([]domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE contributor = $1`
	args := []any{contributor}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND placed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND placed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY placed_at, id"
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

func (s *BidStore) ListByContributorStatus(ctx context.Context, contributor string, status domain.BidStatus) ([]domain.Bid, error) {
	return s.list(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE contributor = $1 AND status = $2 ORDER BY placed_at, id`,
		contributor, string(status),
	)
}

// TransitionByPool moves a pool's bids between statuses in one statement and
// returns the moved rows.
func (s *BidStore) TransitionByPool(ctx context.Context, poolID string, from, to domain.BidStatus) ([]domain.Bid, error) {
	if !domain.CanTransitionBid(from, to) {
		return nil, fmt.Errorf("postgres: transition bids of pool %s: %w: %s -> %s", poolID, domain.ErrIllegalTransition, from, to)
	}
	return s.list(ctx,
		`UPDATE bids SET status = $3, updated_at = NOW()
		 WHERE pool_id = $1 AND status = $2
		 RETURNING `+bidColumns,
		poolID, string(from), string(to),
	)
}

func (s *BidStore) SumLive(ctx context.Context, poolID string) (int64, error) {
	var sum int64
	err := conn(ctx, s.pool).QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM bids WHERE pool_id = $1 AND status IN ('active', 'won')`,
		poolID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum bids of pool %s: %w", poolID, err)
	}
	return sum, nil
}

func (s *BidStore) ListOrphaned(ctx context.Context) ([]domain.Bid, error) {
	return s.list(ctx,
		`SELECT `+prefixed("b", bidColumns)+` FROM bids b
		 JOIN pools p ON p.id = b.pool_id
		 WHERE b.status = 'active' AND p.status = 'completed'
		 ORDER BY b.placed_at, b.id`,
	)
}

func (s *BidStore) list(ctx context.Context, query string, args ...any) ([]domain.Bid, error) {
	rows, err := conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids: %w", err)
	}
	defer rows.Close()

	var bids []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bids rows: %w", err)
	}
	return bids, nil
}

func scanBid(row pgx.Row) (domain.Bid, error) {
	var b domain.Bid
	var status, funding string
	err := row.Scan(
		&b.ID, &b.PoolID, &b.Contributor, &b.Amount, &status, &funding, &b.Proof,
		&b.PlacedAt, &b.UpdatedAt, &b.RefundedAt, &b.RefundAmount,
	)
	b.Status = domain.BidStatus(status)
	b.Funding = domain.FundingSource(funding)
	return b, err
}

// prefixed qualifies a column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
