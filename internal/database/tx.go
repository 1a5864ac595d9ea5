package database

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"
)

type TxOptions struct {
	IsolationLevel sql.IsolationLevel
	ReadOnly       bool
	MaxRetries     int
}

func DefaultTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		ReadOnly:       false,
		MaxRetries:     3,
	}
}

// SerializableTxOptions is used by every operation that transitions
// inventory availability.
func SerializableTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     5,
	}
}

func WithTransaction(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) error {
	if err := runOnce(ctx, db, opts, fn); err != nil {
		return err.err
	}
	return nil
}

// WithRetry runs fn in a transaction and re-runs it from scratch when the
// database reports a serialization failure, deadlock or lock timeout.
// fn must therefore be free of side effects outside the transaction.
func WithRetry(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) error {
	backoff := 50 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		txErr := runOnce(ctx, db, opts, fn)
		if txErr == nil {
			return nil
		}
		if txErr.fatal || ClassifyError(txErr.err) == ErrorClassPermanent {
			return txErr.err
		}
		if attempt == opts.MaxRetries {
			return fmt.Errorf("max retries (%d) exceeded: %w", opts.MaxRetries, txErr.err)
		}

		jitter := time.Duration(rand.Int63n(int64(backoff / 4)))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
}

type txError struct {
	err error
	// fatal errors are never retried: begin and rollback failures.
	fatal bool
}

func runOnce(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) *txError {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{
		Isolation: opts.IsolationLevel,
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return &txError{err: fmt.Errorf("begin transaction: %w", err), fatal: true}
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return &txError{err: fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err), fatal: true}
		}
		return &txError{err: err}
	}

	if err := tx.Commit(); err != nil {
		return &txError{err: fmt.Errorf("commit transaction: %w", err)}
	}

	return nil
}
