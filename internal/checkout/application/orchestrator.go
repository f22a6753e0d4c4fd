package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	cartdomain "github.com/dmehra2102/drop-checkout/internal/cart/domain"
	invdomain "github.com/dmehra2102/drop-checkout/internal/inventory/domain"
	orderdomain "github.com/dmehra2102/drop-checkout/internal/order/domain"
	"github.com/dmehra2102/drop-checkout/pkg/retry"
)

var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrReservationMismatch = errors.New("reservations do not match the cart")
)

const (
	lockedMessage = "Inventory locked. Complete checkout before the hold expires."
	shippingFee   = 0
)

type LockResult struct {
	ReservationIDs   []string
	SubtotalCents    int64
	ShippingFeeCents int64
	TotalCents       int64
	ExpiresAt        time.Time
	Message          string
}

type CheckoutRequest struct {
	CartID         string
	ReservationIDs []string
	Customer       orderdomain.Customer
	PaymentMethod  string
}

type CheckoutResult struct {
	OrderID       string
	OrderNumber   string
	TrackingToken string
	TrackingURL   string
	TotalCents    int64
	Status        orderdomain.OrderStatus
}

type Orchestrator struct {
	log         *slog.Logger
	tx          Transactor
	carts       Carts
	inventory   Inventory
	orders      Orders
	ttl         time.Duration
	retry       retry.Policy
	frontendURL string
	tracer      trace.Tracer
	now         func() time.Time
}

type Option func(*Orchestrator)

func WithTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) { o.ttl = ttl }
}

func WithRetry(p retry.Policy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

func WithFrontendURL(url string) Option {
	return func(o *Orchestrator) { o.frontendURL = strings.TrimRight(url, "/") }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(log *slog.Logger, tx Transactor, carts Carts, inventory Inventory, orders Orders, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		log:       log,
		tx:        tx,
		carts:     carts,
		inventory: inventory,
		orders:    orders,
		ttl:       invdomain.DefaultReservationTTL,
		retry:     retry.DefaultPolicy(3),
		tracer:    otel.Tracer("checkout"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// LockInventory places one hold per cart line. If any line cannot be held,
// the holds already taken by this call are cancelled before returning.
func (o *Orchestrator) LockInventory(ctx context.Context, cartID string) (LockResult, error) {
	ctx, span := o.tracer.Start(ctx, "checkout.LockInventory", trace.WithAttributes(attribute.String("cart.id", cartID)))
	defer span.End()

	lines, err := o.carts.Lines(ctx, cartID)
	if err != nil {
		return LockResult{}, o.fail(span, err)
	}
	if len(lines) == 0 {
		return LockResult{}, o.fail(span, ErrEmptyCart)
	}

	held := make([]invdomain.Reservation, 0, len(lines))
	for _, line := range lines {
		var r invdomain.Reservation
		err := retry.Do(ctx, o.log, o.retry, "inventory.Acquire", func() error {
			var err error
			r, err = o.inventory.Acquire(ctx, line.VariantID, line.Quantity, o.ttl)
			return err
		})
		if err != nil {
			o.rollback(ctx, cartID, held)
			return LockResult{}, o.fail(span, err)
		}
		held = append(held, r)
	}

	res := LockResult{
		ReservationIDs:   make([]string, 0, len(held)),
		SubtotalCents:    cartdomain.SubtotalCents(lines),
		ShippingFeeCents: shippingFee,
		Message:          lockedMessage,
	}
	res.TotalCents = res.SubtotalCents + res.ShippingFeeCents
	for _, r := range held {
		res.ReservationIDs = append(res.ReservationIDs, r.ID)
		if res.ExpiresAt.IsZero() || r.ExpiresAt.Before(res.ExpiresAt) {
			res.ExpiresAt = r.ExpiresAt
		}
	}
	o.log.Info("inventory locked", "cart_id", cartID, "reservations", len(held), "expires_at", res.ExpiresAt)
	return res, nil
}

func (o *Orchestrator) rollback(ctx context.Context, cartID string, held []invdomain.Reservation) {
	if len(held) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	err := retry.Do(ctx, o.log, o.retry, "inventory.Cancel", func() error {
		_, err := o.inventory.Cancel(ctx, held)
		return err
	})
	if err != nil {
		o.log.Error("rolling back partial lock failed; sweeper will reclaim", "cart_id", cartID, "reservations", len(held), "err", err)
	}
}

// UnlockInventory cancels the given holds. Unknown, expired or already
// checked-out reservations are skipped.
func (o *Orchestrator) UnlockInventory(ctx context.Context, reservationIDs []string) (int, error) {
	ctx, span := o.tracer.Start(ctx, "checkout.UnlockInventory", trace.WithAttributes(attribute.Int("reservation.count", len(reservationIDs))))
	defer span.End()

	if len(reservationIDs) == 0 {
		return 0, nil
	}
	var released int
	err := retry.Do(ctx, o.log, o.retry, "checkout.UnlockInventory", func() error {
		rs, err := o.inventory.Reservations(ctx, reservationIDs)
		if err != nil {
			return err
		}
		released, err = o.inventory.Cancel(ctx, rs)
		return err
	})
	if err != nil {
		return 0, o.fail(span, err)
	}
	return released, nil
}

// ProcessCheckout turns a locked cart into an order. Order creation, the
// reservation commit and the cart clear share one unit of work; the
// notification follows once it has committed.
func (o *Orchestrator) ProcessCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	ctx, span := o.tracer.Start(ctx, "checkout.ProcessCheckout", trace.WithAttributes(attribute.String("cart.id", req.CartID)))
	defer span.End()

	if err := req.Customer.Validate(); err != nil {
		return CheckoutResult{}, o.fail(span, err)
	}
	payment, err := orderdomain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return CheckoutResult{}, o.fail(span, err)
	}
	if len(req.ReservationIDs) == 0 {
		return CheckoutResult{}, o.fail(span, fmt.Errorf("%w: no reservations given", ErrReservationMismatch))
	}

	var order orderdomain.Order
	err = retry.Do(ctx, o.log, o.retry, "checkout.ProcessCheckout", func() error {
		return o.tx.WithinTx(ctx, func(ctx context.Context) error {
			// A second checkout of the same cart waits here and then sees it cleared.
			lines, err := o.carts.LockLines(ctx, req.CartID)
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				return ErrEmptyCart
			}
			held, err := o.validateHolds(ctx, lines, req.ReservationIDs)
			if err != nil {
				return err
			}
			items, err := o.snapshot(ctx, lines)
			if err != nil {
				return err
			}
			number, err := o.orders.NextNumber(ctx)
			if err != nil {
				return err
			}

			order = orderdomain.NewOrder(uuid.NewString(), number, uuid.NewString(), req.Customer, payment, items, shippingFee, o.now())
			if err := o.orders.Create(ctx, order); err != nil {
				return err
			}
			if err := o.inventory.Commit(ctx, order.ID, held); err != nil {
				return err
			}
			return o.carts.Clear(ctx, req.CartID)
		})
	})
	if err != nil {
		return CheckoutResult{}, o.fail(span, err)
	}

	o.log.Info("order placed", "order_id", order.ID, "order_number", order.Number, "cart_id", req.CartID, "total_cents", order.TotalCents)
	o.orders.NotifyCreated(ctx, order)

	return CheckoutResult{
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		TrackingToken: order.TrackingToken,
		TrackingURL:   o.frontendURL + "/track/" + order.TrackingToken,
		TotalCents:    order.TotalCents,
		Status:        order.Status,
	}, nil
}

// validateHolds checks that every id is a live hold and that, per variant,
// the holds cover exactly what the cart asks for.
func (o *Orchestrator) validateHolds(ctx context.Context, lines []cartdomain.Line, ids []string) ([]invdomain.Reservation, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			unique = append(unique, id)
		}
	}

	held, err := o.inventory.Reservations(ctx, unique)
	if err != nil {
		return nil, err
	}
	if len(held) != len(unique) {
		return nil, fmt.Errorf("%w: %d of %d reservations not found", ErrReservationMismatch, len(unique)-len(held), len(unique))
	}

	now := o.now()
	reserved := make(map[string]int, len(held))
	for _, r := range held {
		if r.Status != invdomain.ReservationActive || r.ExpiredAt(now) {
			return nil, fmt.Errorf("%w: %s", invdomain.ErrReservationExpired, r.ID)
		}
		reserved[r.VariantID] += r.Quantity
	}

	wanted := cartdomain.Quantities(lines)
	if len(wanted) != len(reserved) {
		return nil, fmt.Errorf("%w: cart has %d variants, reservations cover %d", ErrReservationMismatch, len(wanted), len(reserved))
	}
	for variantID, qty := range wanted {
		if reserved[variantID] != qty {
			return nil, fmt.Errorf("%w: variant %s wants %d, reserved %d", ErrReservationMismatch, variantID, qty, reserved[variantID])
		}
	}
	return held, nil
}

// snapshot freezes name and SKU from the catalog and the price from the cart.
func (o *Orchestrator) snapshot(ctx context.Context, lines []cartdomain.Line) ([]orderdomain.Item, error) {
	items := make([]orderdomain.Item, 0, len(lines))
	for _, line := range lines {
		v, err := o.inventory.Variant(ctx, line.VariantID)
		if err != nil {
			return nil, err
		}
		items = append(items, orderdomain.Item{
			VariantID:  v.ID,
			SKU:        v.SKU,
			Name:       v.DisplayName(),
			Quantity:   line.Quantity,
			PriceCents: line.PriceSnapshotCents,
		})
	}
	return items, nil
}

func (o *Orchestrator) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
