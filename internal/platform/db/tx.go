package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gerai-pos/gerai/internal/shared"
)

// DefaultLockTimeout bounds how long a transaction waits on a row lock before
// the wait surfaces as shared.ErrConcurrencyTimeout.
const DefaultLockTimeout = 5 * time.Second

// WithTx executes a function within a RepeatableRead transaction. A local
// lock_timeout is set so contended row locks fail fast instead of queueing
// behind a stuck writer.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return WithTxTimeout(ctx, pool, DefaultLockTimeout, fn)
}

// WithTxTimeout is WithTx with an explicit lock_timeout.
func WithTxTimeout(ctx context.Context, pool *pgxpool.Pool, lockTimeout time.Duration, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("platform/db: set lock_timeout: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		return ClassifyError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// ClassifyError maps low-level Postgres failures onto the shared taxonomy.
// Code 55P03 is lock_not_available, raised when lock_timeout expires.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "55P03" {
		return fmt.Errorf("%w: %s", shared.ErrConcurrencyTimeout, pgErr.Message)
	}
	return err
}
