package pg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/drop-checkout/pkg/retry"
)

var (
	ErrLockTimeout = fmt.Errorf("pg: lock wait timed out: %w", retry.ErrTransient)
	ErrConflict    = fmt.Errorf("pg: concurrent update conflict: %w", retry.ErrTransient)
	ErrUnavailable = fmt.Errorf("pg: storage unavailable: %w", retry.ErrTransient)
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type txKey struct{}

type DB struct {
	log         *slog.Logger
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewDB(log *slog.Logger, pool *pgxpool.Pool, lockTimeout time.Duration) *DB {
	return &DB{log: log, pool: pool, lockTimeout: lockTimeout}
}

// Conn returns the transaction carried by ctx, or the pool outside of one.
func (db *DB) Conn(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db.pool
}

func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// WithinTx runs fn in a READ COMMITTED transaction whose row lock waits are
// bounded by the configured lock timeout. Nested calls join the outer
// transaction.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return MapError(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if db.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", db.lockTimeout.Milliseconds())); err != nil {
			return MapError(err)
		}
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return MapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return MapError(err)
	}
	return nil
}

// MapError classifies driver errors into the transient sentinels; anything it
// does not recognise is returned as is.
func MapError(err error) error {
	if err == nil || retry.IsTransient(err) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return fmt.Errorf("%w: %w", ErrLockTimeout, err)
		case "40P01", "40001":
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
