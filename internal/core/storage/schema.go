package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zeusync/worldcore/internal/core/persist"
)

// SchemaVersion is the schema this build's catalog expects.
const SchemaVersion = 1

var ErrSchemaMismatch = errors.New("database schema version mismatch")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS characters (
		id         INTEGER PRIMARY KEY,
		account_id INTEGER NOT NULL,
		name       TEXT    NOT NULL UNIQUE,
		level      INTEGER NOT NULL DEFAULT 1,
		exp        INTEGER NOT NULL DEFAULT 0,
		health     INTEGER NOT NULL DEFAULT 0,
		mana       INTEGER NOT NULL DEFAULT 0,
		max_health INTEGER NOT NULL DEFAULT 0,
		max_mana   INTEGER NOT NULL DEFAULT 0,
		gold       INTEGER NOT NULL DEFAULT 0,
		x          REAL    NOT NULL DEFAULT 0,
		y          REAL    NOT NULL DEFAULT 0,
		z          REAL    NOT NULL DEFAULT 0,
		face       REAL    NOT NULL DEFAULT 0,
		layer      INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id       INTEGER PRIMARY KEY,
		owner_id INTEGER NOT NULL DEFAULT 0,
		code     INTEGER NOT NULL,
		count    INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS items_owner ON items (owner_id)`,
}

// Migrate creates the tables and stamps the schema version on an empty
// database. It runs before the pool opens because connections prepare
// their statements against these tables.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ddl := range schema {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&n); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if n == 0 {
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
			return fmt.Errorf("stamp schema version: %w", err)
		}
	}
	return tx.Commit()
}

// VerifySchema compares the stored schema version with want.
func VerifySchema(ctx context.Context, pool *persist.Pool, want int) error {
	rs, err := pool.Query(ctx, persist.NewStatement(StmtSchemaVersion))
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	row := rs.First()
	if row == nil {
		return fmt.Errorf("%w: no version row, want %d", ErrSchemaMismatch, want)
	}
	if got := int(row[0].Int64()); got != want {
		return fmt.Errorf("%w: database has %d, want %d", ErrSchemaMismatch, got, want)
	}
	return nil
}
