package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// WithScope returns a context carrying the pool itself as Querier.
// The cleanup function is a no-op for the pool but keeps call sites uniform
// with connection-backed scopes.
func (db *DB) WithScope(ctx context.Context) (context.Context, func(), error) {
	return SetScope(ctx, db.Pool), func() {}, nil
}

// Acquire takes one connection from the pool and scopes the context to it.
// The returned release function MUST be called.
func (db *DB) Acquire(ctx context.Context) (context.Context, func(), error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return SetScope(ctx, conn), conn.Release, nil
}

// InTx runs fn inside a transaction whose Querier is stored in the context.
// The transaction commits when fn returns nil and rolls back otherwise.
// Nested calls reuse the outer transaction.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if q, ok := GetScope(ctx); ok {
		if _, isTx := q.(pgx.Tx); isTx {
			return fn(ctx)
		}
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(SetScope(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
