package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockID serializes migrations across replicas starting together.
const migrationLockID = 0x5b07_11d7

// auctionTables must exist before any store is used.
var auctionTables = []string{
	"targets", "balances", "pools", "bids", "consumed_proofs", "featured_slots", "audit_log",
}

// ErrSlotOccupied is returned when the configured slot count would drop a
// slot that is still featuring a pool.
var ErrSlotOccupied = errors.New("featured slot still occupied")

// BootstrapConfig controls Client.Bootstrap.
type BootstrapConfig struct {
	// Migrate applies pending embedded migrations first.
	Migrate bool
	// SlotCount is the number of featured slots the auction runs with.
	SlotCount int
}

// Bootstrap prepares the auction schema for serving: it migrates when asked,
// checks that every auction table exists and resizes featured_slots to
// SlotCount. Shrinking never drops a slot that is featuring a pool.
func (c *Client) Bootstrap(ctx context.Context, cfg BootstrapConfig) error {
	if cfg.Migrate {
		if err := c.migrate(ctx); err != nil {
			return err
		}
	}
	if err := c.checkTables(ctx); err != nil {
		return err
	}
	if cfg.SlotCount < 1 {
		return fmt.Errorf("postgres: bootstrap: slot count %d", cfg.SlotCount)
	}
	return c.WithTx(ctx, func(ctx context.Context) error {
		return resizeSlots(ctx, conn(ctx, c.pool), cfg.SlotCount)
	})
}

func (c *Client) checkTables(ctx context.Context) error {
	rows, err := c.pool.Query(ctx,
		`SELECT t FROM unnest($1::text[]) AS t WHERE to_regclass(t) IS NULL`, auctionTables)
	if err != nil {
		return fmt.Errorf("postgres: check schema: %w", err)
	}
	missing, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("postgres: check schema: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("postgres: schema missing tables %s; enable database.run_migrations",
			strings.Join(missing, ", "))
	}
	return nil
}

func resizeSlots(ctx context.Context, db dbtx, size int) error {
	rows, err := db.Query(ctx,
		`SELECT slot_index, target_id FROM featured_slots
		 WHERE slot_index >= $1 AND target_id <> ''
		 ORDER BY slot_index
		 FOR UPDATE`, size)
	if err != nil {
		return fmt.Errorf("postgres: check slots beyond %d: %w", size, err)
	}
	type occupied struct {
		Index  int
		Target string
	}
	busy, err := pgx.CollectRows(rows, pgx.RowToStructByPos[occupied])
	if err != nil {
		return fmt.Errorf("postgres: check slots beyond %d: %w", size, err)
	}
	if len(busy) > 0 {
		return fmt.Errorf("postgres: slot %d features %s but slot_count is %d: %w",
			busy[0].Index, busy[0].Target, size, ErrSlotOccupied)
	}

	if _, err := db.Exec(ctx, `DELETE FROM featured_slots WHERE slot_index >= $1`, size); err != nil {
		return fmt.Errorf("postgres: trim slots to %d: %w", size, err)
	}
	_, err = db.Exec(ctx,
		`INSERT INTO featured_slots (slot_index)
		 SELECT generate_series(0, $1 - 1)
		 ON CONFLICT (slot_index) DO NOTHING`, size)
	if err != nil {
		return fmt.Errorf("postgres: seed %d slots: %w", size, err)
	}
	return nil
}

// migrate applies embedded migrations in name order. Each file runs in its
// own transaction together with its schema_migrations row.
func (c *Client) migrate(ctx context.Context) error {
	pending, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("postgres: list migrations: %w", err)
	}
	slices.Sort(pending)

	lockConn, err := c.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("postgres: acquire migration conn: %w", err)
	}
	defer lockConn.Release()
	if _, err := lockConn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("postgres: migration lock: %w", err)
	}
	defer func() {
		_, _ = lockConn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	if _, err := lockConn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("postgres: create schema_migrations: %w", err)
	}
	rows, err := lockConn.Query(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("postgres: read schema_migrations: %w", err)
	}
	applied, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("postgres: read schema_migrations: %w", err)
	}

	for _, path := range pending {
		name := strings.TrimPrefix(path, "migrations/")
		if slices.Contains(applied, name) {
			continue
		}
		sql, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", name, err)
		}
		err = pgx.BeginFunc(ctx, lockConn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return fmt.Errorf("postgres: apply migration %s: %w", name, err)
		}
	}
	return nil
}
