package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	pgconnv5 "github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxTxAttempts bounds retries of transactions aborted by lock contention.
const maxTxAttempts = 3

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// WithTxRetry runs WithTx and retries a bounded number of times when the
// transaction aborts with a serialization failure or deadlock. Any other
// error is returned to the caller unchanged.
func WithTxRetry(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = WithTx(ctx, pool, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
		}
	}
	return fmt.Errorf("platform/db: tx aborted after %d attempts: %w", maxTxAttempts, err)
}

// IsRetryable reports whether err is a transient transaction abort.
func IsRetryable(err error) bool {
	// 40001 serialization_failure, 40P01 deadlock_detected
	code := sqlState(err)
	return code == "40001" || code == "40P01"
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return sqlState(err) == "23505"
}

func sqlState(err error) string {
	var v5Err *pgconnv5.PgError
	if errors.As(err, &v5Err) {
		return v5Err.Code
	}
	var v4Err *pgconn.PgError
	if errors.As(err, &v4Err) {
		return v4Err.Code
	}
	return ""
}
