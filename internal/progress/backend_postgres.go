package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

const progressSchema = `
CREATE TABLE IF NOT EXISTS progress_blobs (
	key        TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresBackend stores progress documents in the progress_blobs table.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend creates a PostgreSQL-backed Backend and ensures its
// table exists.
func NewPostgresBackend(ctx context.Context, pool *pgxpool.Pool) (*PostgresBackend, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	if _, err := pool.Exec(ctx, progressSchema); err != nil {
		return nil, fmt.Errorf("create progress table: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (b *PostgresBackend) Read(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var data string
	err := b.pool.QueryRow(ctx,
		`SELECT data::text FROM progress_blobs WHERE key = $1`,
		key,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read progress: %w", err)
	}
	return []byte(data), nil
}

func (b *PostgresBackend) Write(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := b.pool.Exec(ctx,
		`INSERT INTO progress_blobs (key, data, updated_at)
		 VALUES ($1, $2::jsonb, NOW())
		 ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		key,
		string(data),
	)
	if err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return nil
}

// Update locks the row for the duration of fn. A placeholder row is
// inserted first so that concurrent first writers serialize on it.
func (b *PostgresBackend) Update(ctx context.Context, key string, fn func([]byte) ([]byte, error)) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin progress update: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO progress_blobs (key, data) VALUES ($1, '{}'::jsonb)
		 ON CONFLICT (key) DO NOTHING`,
		key,
	)
	if err != nil {
		return fmt.Errorf("reserve progress row: %w", err)
	}
	created := tag.RowsAffected() == 1

	var data string
	if err := tx.QueryRow(ctx,
		`SELECT data::text FROM progress_blobs WHERE key = $1 FOR UPDATE`,
		key,
	).Scan(&data); err != nil {
		return fmt.Errorf("lock progress row: %w", err)
	}

	var current []byte
	if !created {
		current = []byte(data)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE progress_blobs SET data = $2::jsonb, updated_at = NOW() WHERE key = $1`,
		key,
		string(next),
	); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit progress update: %w", err)
	}
	return nil
}

func (b *PostgresBackend) HealthCheck(ctx context.Context) error {
	return b.pool.Ping(ctx)
}
