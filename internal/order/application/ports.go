package application

import (
	"context"
	"time"

	invdomain "github.com/dmehra2102/drop-checkout/internal/inventory/domain"
	"github.com/dmehra2102/drop-checkout/internal/order/domain"
)

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type OrderRepository interface {
	Create(ctx context.Context, o domain.Order) error
	Get(ctx context.Context, id string) (domain.Order, error)
	GetByTrackingToken(ctx context.Context, token string) (domain.Order, error)
	// GetForUpdate reads the order and holds its row lock until the unit of
	// work ends.
	GetForUpdate(ctx context.Context, id string) (domain.Order, error)
	// UpdateStatus writes `to` only if the stored status is still `from`.
	UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) (bool, error)
	NextNumber(ctx context.Context, day time.Time) (string, error)
}

// Inventory is the part of the reservation manager the state machine drives.
type Inventory interface {
	Commit(ctx context.Context, orderID string, reservations []invdomain.Reservation) error
	Release(ctx context.Context, reservations []invdomain.Reservation) (int, error)
	ReservationsForOrder(ctx context.Context, orderID string) ([]invdomain.Reservation, error)
}

type Notifier interface {
	OrderCreated(ctx context.Context, o domain.Order) error
	OrderStatusChanged(ctx context.Context, o domain.Order, from domain.OrderStatus) error
}
