package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the Postgres connection holding the record.
type PostgresConfig struct {
	DSN   string
	Table string
}

type rowQuerier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// PostgresBackend keeps the record in a one-row JSONB table.
type PostgresBackend struct {
	pool  rowQuerier
	table string
}

// NewPostgresBackend connects to Postgres and creates the table if needed.
func NewPostgresBackend(ctx context.Context, cfg PostgresConfig) (*PostgresBackend, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("cache.postgres.dsn is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	b, err := NewPostgresBackendWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := b.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// NewPostgresBackendWithPool constructs a backend from an existing pool (primarily for testing).
func NewPostgresBackendWithPool(pool rowQuerier, table string) (*PostgresBackend, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "catalog_snapshot"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresBackend{pool: pool, table: table}, nil
}

// EnsureSchema creates the snapshot table.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id SMALLINT PRIMARY KEY,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, b.table)
	if _, err := b.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", b.table, err)
	}
	return nil
}

// Get reads the record.
func (b *PostgresBackend) Get(ctx context.Context) ([]byte, error) {
	var payload []byte
	query := fmt.Sprintf("SELECT payload FROM %s WHERE id = 1", b.table)
	if err := b.pool.QueryRow(ctx, query).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return payload, nil
}

// Set upserts the record.
func (b *PostgresBackend) Set(ctx context.Context, data []byte) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, payload, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`, b.table)
	if _, err := b.pool.Exec(ctx, query, data); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Delete removes the record.
func (b *PostgresBackend) Delete(ctx context.Context) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = 1", b.table)
	if _, err := b.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Exists reports whether the record row is present.
func (b *PostgresBackend) Exists(ctx context.Context) (bool, error) {
	var ok bool
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE id = 1)", b.table)
	if err := b.pool.QueryRow(ctx, query).Scan(&ok); err != nil {
		return false, fmt.Errorf("check snapshot: %w", err)
	}
	return ok, nil
}

// Close releases the pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
