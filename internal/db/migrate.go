package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies embedded migrations in lexical order. A migration is
// identified by its name plus a content hash, so editing an applied file
// makes it run again rather than silently diverge.
func Migrate(ctx context.Context, sqlDB *sql.DB) error {
	const ledger = `
CREATE TABLE IF NOT EXISTS schema_migrations (
  id TEXT PRIMARY KEY,
  applied_at INTEGER NOT NULL
);
`
	if _, err := sqlDB.ExecContext(ctx, ledger); err != nil {
		return err
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(body)
		id := name + ":" + hex.EncodeToString(sum[:])

		var seen string
		err = sqlDB.QueryRowContext(ctx, "SELECT id FROM schema_migrations WHERE id = ?", id).Scan(&seen)
		switch {
		case err == nil:
			continue
		case errors.Is(err, sql.ErrNoRows):
		default:
			return err
		}

		if err := runMigration(ctx, sqlDB, id, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

func runMigration(ctx context.Context, sqlDB *sql.DB, id, body string) error {
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations(id, applied_at) VALUES(?, strftime('%s','now'))", id); err != nil {
		return err
	}
	return tx.Commit()
}
