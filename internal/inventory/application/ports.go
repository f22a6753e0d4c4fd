package application

import (
	"context"
	"time"

	"github.com/dmehra2102/drop-checkout/internal/inventory/domain"
)

// Transactor runs fn as one unit of work. Calls made with a ctx that already
// carries a unit of work join it.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type VariantRepository interface {
	Get(ctx context.Context, id string) (domain.Variant, error)
	// LockForUpdate takes the exclusive per-variant lock and returns the
	// current row. The lock is held until the surrounding unit of work ends.
	LockForUpdate(ctx context.Context, id string) (domain.Variant, error)
	AdjustStock(ctx context.Context, id string, delta int) error
}

type ReservationRepository interface {
	Insert(ctx context.Context, r domain.Reservation) error
	GetMany(ctx context.Context, ids []string) ([]domain.Reservation, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)
	// Transition sets status to `to` (and links orderID when non-empty) only if
	// the current status is one of `from`. It reports whether the row changed.
	Transition(ctx context.Context, id string, from []domain.ReservationStatus, to domain.ReservationStatus, orderID string) (bool, error)
}
