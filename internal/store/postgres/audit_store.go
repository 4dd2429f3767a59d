package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

// AuditStore implements domain.AuditStore. Subjects live in their own
// indexed columns so an operator can pull the history of one pool.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends entry. Inside WithTx it commits with the state change it
// describes.
func (s *AuditStore) Log(ctx context.Context, entry domain.AuditEntry) error {
	if !entry.Event.Valid() {
		return fmt.Errorf("postgres: log audit %q: %w", entry.Event, domain.ErrUnknownAuditEvent)
	}
	var detail []byte
	if len(entry.Detail) > 0 {
		var err error
		if detail, err = json.Marshal(entry.Detail); err != nil {
			return fmt.Errorf("postgres: encode %s detail: %w", entry.Event, err)
		}
	}

	_, err := conn(ctx, s.pool).Exec(ctx,
		`INSERT INTO audit_log (event, pool_id, bid_id, actor, detail) VALUES ($1, $2, $3, $4, $5)`,
		string(entry.Event), entry.PoolID, entry.BidID, entry.Actor, detail,
	)
	if err != nil {
		return fmt.Errorf("postgres: log audit %s: %w", entry.Event, err)
	}
	return nil
}

// List returns matching entries newest first.
func (s *AuditStore) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	query, args := auditQuery(filter)
	rows, err := conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			event  string
			detail []byte
		)
		if err := rows.Scan(&e.ID, &event, &e.PoolID, &e.BidID, &e.Actor, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit: %w", err)
		}
		e.Event = domain.AuditEvent(event)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: decode audit %d detail: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	return entries, nil
}

func auditQuery(f domain.AuditFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Event != "" {
		where = append(where, "event = "+arg(string(f.Event)))
	}
	if f.PoolID != "" {
		where = append(where, "pool_id = "+arg(f.PoolID))
	}
	if f.Since != nil {
		where = append(where, "created_at >= "+arg(*f.Since))
	}
	if f.Until != nil {
		where = append(where, "created_at <= "+arg(*f.Until))
	}

	var b strings.Builder
	b.WriteString(`SELECT id, event, pool_id, bid_id, actor, detail, created_at FROM audit_log`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if f.Limit > 0 {
		b.WriteString(" LIMIT " + arg(f.Limit))
	}
	if f.Offset > 0 {
		b.WriteString(" OFFSET " + arg(f.Offset))
	}
	return b.String(), args
}
