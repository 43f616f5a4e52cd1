// Package database bootstraps the Postgres connection pool shared by
// internal/portfolio's and internal/execution's Postgres implementations,
// and applies the schema those implementations assume. Schema changes
// ship as plain SQL files, embedded into the binary and run through the
// same pgxpool.Pool the
// rest of live mode uses, so startup never needs a separate migration
// step.
package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Open connects to connStr and verifies the connection with a ping.
func Open(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	if connStr == "" {
		return nil, fmt.Errorf("database: connection string is required")
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("database: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}
	return pool, nil
}

// Migrate applies every embedded migration file in lexical order. Each
// file is expected to be idempotent (CREATE TABLE IF NOT EXISTS, CREATE
// INDEX IF NOT EXISTS), so re-running Migrate against an already
// migrated database is a no-op.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("database: read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		sqlBytes, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("database: read %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("database: apply %s: %w", name, err)
		}
	}
	return nil
}

// EnsureAccount inserts an accounts row for user if one doesn't already
// exist, seeding it with initialCash. This mirrors what
// portfolio.NewMemoryStore's SetCash does for paper mode — live mode's
// equivalent bootstrap step, run once before the first trading cycle.
func EnsureAccount(ctx context.Context, pool *pgxpool.Pool, user string, initialCash decimal.Decimal) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO accounts (username, cash_balance) VALUES ($1, $2)
		ON CONFLICT (username) DO NOTHING`, user, initialCash)
	if err != nil {
		return fmt.Errorf("database: ensure account %s: %w", user, err)
	}
	return nil
}

// OpenAndMigrate is the common case: open the pool, then bring the
// schema up to date before handing the pool to the store/ledger layers.
func OpenAndMigrate(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	pool, err := Open(ctx, connStr)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
