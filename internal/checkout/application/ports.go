package application

import (
	"context"
	"time"

	cartdomain "github.com/dmehra2102/drop-checkout/internal/cart/domain"
	invdomain "github.com/dmehra2102/drop-checkout/internal/inventory/domain"
	orderdomain "github.com/dmehra2102/drop-checkout/internal/order/domain"
)

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Carts interface {
	Lines(ctx context.Context, cartID string) ([]cartdomain.Line, error)
	LockLines(ctx context.Context, cartID string) ([]cartdomain.Line, error)
	Clear(ctx context.Context, cartID string) error
}

type Inventory interface {
	Acquire(ctx context.Context, variantID string, quantity int, ttl time.Duration) (invdomain.Reservation, error)
	Cancel(ctx context.Context, reservations []invdomain.Reservation) (int, error)
	Commit(ctx context.Context, orderID string, reservations []invdomain.Reservation) error
	Reservations(ctx context.Context, ids []string) ([]invdomain.Reservation, error)
	Variant(ctx context.Context, variantID string) (invdomain.Variant, error)
}

type Orders interface {
	Create(ctx context.Context, o orderdomain.Order) error
	NextNumber(ctx context.Context) (string, error)
	NotifyCreated(ctx context.Context, o orderdomain.Order)
}
