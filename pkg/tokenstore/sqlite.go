package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/aussiebroadwan/ulm/pkg/tokenstore/migrations"

	_ "modernc.org/sqlite"
)

// SQLiteBackend keeps state in a single-table SQLite database. Useful when
// the console shares a host database with other tooling.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens dsn and applies pending migrations.
func NewSQLiteBackend(dsn string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// One writer keeps SQLITE_BUSY out of the way; the console is not a
	// high-throughput client.
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db}
	if err := b.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate token database: %w", err)
	}
	return b, nil
}

// ApplyMigrations applies any pending migrations from the embedded files.
func (b *SQLiteBackend) ApplyMigrations() error {
	driver, err := migratesqlite.WithInstance(b.db, &migratesqlite.Config{})
	if err != nil {
		return err
	}

	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}

	instance, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return err
	}

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := b.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, values map[string]string) error {
	return b.withTx(ctx, func(tx *sql.Tx) error {
		for k, v := range values {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
				k, v,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *SQLiteBackend) Delete(ctx context.Context, keys ...string) error {
	return b.withTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }

// withTx executes fn within a transaction, committing only if fn succeeds.
func (b *SQLiteBackend) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() // safe to call even after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
