package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/drop-checkout/internal/inventory/domain"
	"github.com/dmehra2102/drop-checkout/internal/platform/pg"
)

const variantColumns = `v.id, p.name, v.sku, v.size, v.color, v.price_cents, v.stock_quantity, v.active`

type VariantRepository struct {
	log *slog.Logger
	db  *pg.DB
}

func NewVariantRepository(log *slog.Logger, db *pg.DB) *VariantRepository {
	return &VariantRepository{log: log, db: db}
}

func (r *VariantRepository) Get(ctx context.Context, id string) (domain.Variant, error) {
	row := r.db.Conn(ctx).QueryRow(ctx, `SELECT `+variantColumns+`
		FROM product_variants v JOIN products p ON p.id = v.product_id
		WHERE v.id = $1`, id)
	return scanVariant(row, id)
}

// LockForUpdate takes the variant's row lock. The wait is bounded by the
// transaction's lock_timeout; a timeout surfaces as pg.ErrLockTimeout.
func (r *VariantRepository) LockForUpdate(ctx context.Context, id string) (domain.Variant, error) {
	row := r.db.Conn(ctx).QueryRow(ctx, `SELECT `+variantColumns+`
		FROM product_variants v JOIN products p ON p.id = v.product_id
		WHERE v.id = $1
		FOR UPDATE OF v`, id)
	return scanVariant(row, id)
}

func (r *VariantRepository) AdjustStock(ctx context.Context, id string, delta int) error {
	ct, err := r.db.Conn(ctx).Exec(ctx, `UPDATE product_variants
		SET stock_quantity = stock_quantity + $2, updated_at = now()
		WHERE id = $1`, id, delta)
	if err != nil {
		return pg.MapError(err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrVariantNotFound, id)
	}
	return nil
}

func scanVariant(row pgx.Row, id string) (domain.Variant, error) {
	var v domain.Variant
	err := row.Scan(&v.ID, &v.ProductName, &v.SKU, &v.Size, &v.Color, &v.PriceCents, &v.StockQuantity, &v.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Variant{}, fmt.Errorf("%w: %s", domain.ErrVariantNotFound, id)
	}
	if err != nil {
		return domain.Variant{}, pg.MapError(err)
	}
	return v, nil
}

type ReservationRepository struct {
	log *slog.Logger
	db  *pg.DB
}

func NewReservationRepository(log *slog.Logger, db *pg.DB) *ReservationRepository {
	return &ReservationRepository{log: log, db: db}
}

const reservationColumns = `id, variant_id, COALESCE(order_id, ''), quantity, reserved_at, expires_at, status`

func (r *ReservationRepository) Insert(ctx context.Context, res domain.Reservation) error {
	_, err := r.db.Conn(ctx).Exec(ctx, `INSERT INTO inventory_reservations
		(id, variant_id, order_id, quantity, reserved_at, expires_at, status)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`,
		res.ID, res.VariantID, res.OrderID, res.Quantity, res.ReservedAt, res.ExpiresAt, string(res.Status))
	return pg.MapError(err)
}

func (r *ReservationRepository) GetMany(ctx context.Context, ids []string) ([]domain.Reservation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Conn(ctx).Query(ctx, `SELECT `+reservationColumns+`
		FROM inventory_reservations WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, pg.MapError(err)
	}
	found, err := scanReservations(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domain.Reservation, len(found))
	for _, res := range found {
		byID[res.ID] = res
	}
	out := make([]domain.Reservation, 0, len(found))
	for _, id := range ids {
		if res, ok := byID[id]; ok {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r *ReservationRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, `SELECT `+reservationColumns+`
		FROM inventory_reservations WHERE order_id = $1 ORDER BY reserved_at`, orderID)
	if err != nil {
		return nil, pg.MapError(err)
	}
	return scanReservations(rows)
}

func (r *ReservationRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, `SELECT `+reservationColumns+`
		FROM inventory_reservations
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3`, string(domain.ReservationActive), now, limit)
	if err != nil {
		return nil, pg.MapError(err)
	}
	return scanReservations(rows)
}

func (r *ReservationRepository) Transition(ctx context.Context, id string, from []domain.ReservationStatus, to domain.ReservationStatus, orderID string) (bool, error) {
	fromStr := make([]string, 0, len(from))
	for _, s := range from {
		fromStr = append(fromStr, string(s))
	}
	ct, err := r.db.Conn(ctx).Exec(ctx, `UPDATE inventory_reservations
		SET status = $2, order_id = COALESCE(NULLIF($3, ''), order_id)
		WHERE id = $1 AND status = ANY($4)`, id, string(to), orderID, fromStr)
	if err != nil {
		return false, pg.MapError(err)
	}
	return ct.RowsAffected() == 1, nil
}

func scanReservations(rows pgx.Rows) ([]domain.Reservation, error) {
	defer rows.Close()
	var out []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		var status string
		if err := rows.Scan(&res.ID, &res.VariantID, &res.OrderID, &res.Quantity, &res.ReservedAt, &res.ExpiresAt, &status); err != nil {
			return nil, pg.MapError(err)
		}
		res.Status = domain.ReservationStatus(status)
		out = append(out, res)
	}
	return out, pg.MapError(rows.Err())
}
