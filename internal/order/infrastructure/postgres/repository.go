package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/drop-checkout/internal/order/domain"
	"github.com/dmehra2102/drop-checkout/internal/platform/pg"
)

type Repository struct {
	log *slog.Logger
	db  *pg.DB
}

func NewRepository(log *slog.Logger, db *pg.DB) *Repository {
	return &Repository{log: log, db: db}
}

const orderColumns = `id, order_number, tracking_token, customer_name, customer_email, customer_phone,
	shipping_address, subtotal_cents, shipping_fee_cents, total_cents, payment_method, status, created_at, updated_at`

// Create inserts the order and its line snapshots. It must run in a unit of
// work; the items go out as one batch.
func (r *Repository) Create(ctx context.Context, o domain.Order) error {
	q := r.db.Conn(ctx)
	_, err := q.Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		o.ID, o.Number, o.TrackingToken, o.Customer.Name, o.Customer.Email, o.Customer.Phone,
		o.Customer.Address, o.SubtotalCents, o.ShippingFeeCents, o.TotalCents, string(o.PaymentMethod),
		string(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return pg.MapError(err)
	}

	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(`INSERT INTO order_items (order_id, variant_id, quantity, price_cents, sku_snapshot, name_snapshot)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			o.ID, item.VariantID, item.Quantity, item.PriceCents, item.SKU, item.Name)
	}
	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return pg.MapError(err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
}

func (r *Repository) GetByTrackingToken(ctx context.Context, token string) (domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE tracking_token=$1`, token)
}

func (r *Repository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id)
}

func (r *Repository) getOne(ctx context.Context, sql string, arg string) (domain.Order, error) {
	q := r.db.Conn(ctx)
	var (
		o       domain.Order
		payment string
		status  string
	)
	err := q.QueryRow(ctx, sql, arg).Scan(
		&o.ID, &o.Number, &o.TrackingToken, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.Customer.Address, &o.SubtotalCents, &o.ShippingFeeCents, &o.TotalCents, &payment, &status,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, arg)
	}
	if err != nil {
		return domain.Order{}, pg.MapError(err)
	}
	o.PaymentMethod = domain.PaymentMethod(payment)
	o.Status = domain.OrderStatus(status)

	rows, err := q.Query(ctx, `SELECT variant_id, sku_snapshot, name_snapshot, quantity, price_cents
		FROM order_items WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return domain.Order{}, pg.MapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.VariantID, &item.SKU, &item.Name, &item.Quantity, &item.PriceCents); err != nil {
			return domain.Order{}, err
		}
		o.Items = append(o.Items, item)
	}
	return o, pg.MapError(rows.Err())
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) (bool, error) {
	ct, err := r.db.Conn(ctx).Exec(ctx, `UPDATE orders SET status=$3, updated_at=$4 WHERE id=$1 AND status=$2`,
		id, string(from), string(to), at)
	if err != nil {
		return false, pg.MapError(err)
	}
	return ct.RowsAffected() == 1, nil
}

// NextNumber draws from a sequence, so concurrent checkouts never collide on
// an order number.
func (r *Repository) NextNumber(ctx context.Context, day time.Time) (string, error) {
	var n int64
	if err := r.db.Conn(ctx).QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&n); err != nil {
		return "", pg.MapError(err)
	}
	return domain.FormatNumber(day, n), nil
}
