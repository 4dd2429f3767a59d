package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

// LedgerStore implements domain.Ledger on the balances table. Debits are a
// single conditional UPDATE so the balance can never go negative even
// without an explicit row lock.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

func (s *LedgerStore) Balance(ctx context.Context, account string) (int64, error) {
	var amount int64
	err := conn(ctx, s.pool).QueryRow(ctx,
		`SELECT amount FROM balances WHERE account = $1`, account,
	).Scan(&amount)
	if err != nil {
		if notFound(err) {
			return 0, fmt.Errorf("postgres: balance %s: %w", account, domain.ErrAccountNotFound)
		}
		return 0, fmt.Errorf("postgres: balance %s: %w", account, err)
	}
	return amount, nil
}

func (s *LedgerStore) Debit(ctx context.Context, account string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("postgres: debit %s: %w", account, domain.ErrInvalidBid)
	}
	tag, err := conn(ctx, s.pool).Exec(ctx,
		`UPDATE balances SET amount = amount - $2, updated_at = NOW()
		 WHERE account = $1 AND amount >= $2`,
		account, amount,
	)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", account, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: debit %s: %w", account, domain.ErrInsufficientBalance)
	}
	return nil
}

func (s *LedgerStore) Credit(ctx context.Context, account string, amount int64) error {
	tag, err := conn(ctx, s.pool).Exec(ctx,
		`UPDATE balances SET amount = amount + $2, updated_at = NOW() WHERE account = $1`,
		account, amount,
	)
	if err != nil {
		return fmt.Errorf("postgres: credit %s: %w", account, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: credit %s: %w", account, domain.ErrAccountNotFound)
	}
	return nil
}

func (s *LedgerStore) EnsureAccount(ctx context.Context, account string) error {
	_, err := conn(ctx, s.pool).Exec(ctx,
		`INSERT INTO balances (account) VALUES ($1) ON CONFLICT (account) DO NOTHING`,
		account,
	)
	if err != nil {
		return fmt.Errorf("postgres: ensure account %s: %w", account, err)
	}
	return nil
}

// ProofStore implements domain.ProofStore on the consumed_proofs table.
type ProofStore struct {
	pool *pgxpool.Pool
}

// NewProofStore creates a new ProofStore backed by the given connection pool.
func NewProofStore(pool *pgxpool.Pool) *ProofStore {
	return &ProofStore{pool: pool}
}

func (s *ProofStore) Exists(ctx context.Context, proof string) (bool, error) {
	var exists bool
	err := conn(ctx, s.pool).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM consumed_proofs WHERE proof = $1)`, proof,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check proof: %w", err)
	}
	return exists, nil
}

func (s *ProofStore) Consume(ctx context.Context, proof, bidID string) error {
	_, err := conn(ctx, s.pool).Exec(ctx,
		`INSERT INTO consumed_proofs (proof, bid_id) VALUES ($1, $2)`, proof, bidID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: consume proof: %w", domain.ErrDuplicateProof)
		}
		return fmt.Errorf("postgres: consume proof: %w", err)
	}
	return nil
}
