package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/drop-checkout/internal/cart/domain"
	"github.com/dmehra2102/drop-checkout/internal/platform/pg"
)

type Repository struct {
	log *slog.Logger
	db  *pg.DB
}

func NewRepository(log *slog.Logger, db *pg.DB) *Repository {
	return &Repository{log: log, db: db}
}

func (r *Repository) Lines(ctx context.Context, cartID string) ([]domain.Line, error) {
	var exists bool
	if err := r.db.Conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM carts WHERE id=$1)`, cartID).Scan(&exists); err != nil {
		return nil, pg.MapError(err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrCartNotFound, cartID)
	}
	return r.items(ctx, cartID)
}

// LockLines takes the cart row FOR UPDATE before reading its items. It must
// run inside a transaction.
func (r *Repository) LockLines(ctx context.Context, cartID string) ([]domain.Line, error) {
	var id string
	err := r.db.Conn(ctx).QueryRow(ctx, `SELECT id FROM carts WHERE id=$1 FOR UPDATE`, cartID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCartNotFound, cartID)
	}
	if err != nil {
		return nil, pg.MapError(err)
	}
	return r.items(ctx, cartID)
}

func (r *Repository) items(ctx context.Context, cartID string) ([]domain.Line, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, `SELECT variant_id, quantity, price_snapshot_cents FROM cart_items WHERE cart_id=$1 ORDER BY id`, cartID)
	if err != nil {
		return nil, pg.MapError(err)
	}
	defer rows.Close()
	var lines []domain.Line
	for rows.Next() {
		var l domain.Line
		if err := rows.Scan(&l.VariantID, &l.Quantity, &l.PriceSnapshotCents); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, pg.MapError(rows.Err())
}

func (r *Repository) Clear(ctx context.Context, cartID string) error {
	q := r.db.Conn(ctx)
	ct, err := q.Exec(ctx, `UPDATE carts SET updated_at=now() WHERE id=$1`, cartID)
	if err != nil {
		return pg.MapError(err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrCartNotFound, cartID)
	}
	_, err = q.Exec(ctx, `DELETE FROM cart_items WHERE cart_id=$1`, cartID)
	return pg.MapError(err)
}

func (r *Repository) DeleteStale(ctx context.Context, before time.Time) (int, error) {
	ct, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM carts WHERE updated_at < $1`, before)
	if err != nil {
		return 0, pg.MapError(err)
	}
	return int(ct.RowsAffected()), nil
}
