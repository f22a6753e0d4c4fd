package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultReservationTTL is how long a checkout hold lasts before the sweeper
// may reclaim it.
const DefaultReservationTTL = 15 * time.Minute

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationExpired   ReservationStatus = "EXPIRED"
	ReservationCommitted ReservationStatus = "COMMITTED"
)

// Variant is a sellable size/color combination of a product. StockQuantity is
// already net of every ACTIVE and COMMITTED reservation.
type Variant struct {
	ID            string
	ProductName   string
	SKU           string
	Size          string
	Color         string
	PriceCents    int64
	StockQuantity int
	Active        bool
}

// DisplayName is the name snapshotted onto order lines.
func (v Variant) DisplayName() string {
	name := v.ProductName
	if v.Size != "" {
		name += " - " + v.Size
	}
	if v.Color != "" {
		name += " - " + v.Color
	}
	return name
}

// Available never reports a negative count.
func (v Variant) Available() int {
	return max(0, v.StockQuantity)
}

type Reservation struct {
	ID         string
	VariantID  string
	Quantity   int
	ReservedAt time.Time
	ExpiresAt  time.Time
	Status     ReservationStatus
	OrderID    string // empty while held
}

func NewReservation(variantID string, quantity int, now time.Time, ttl time.Duration) Reservation {
	now = now.UTC()
	return Reservation{
		ID:         uuid.NewString(),
		VariantID:  variantID,
		Quantity:   quantity,
		ReservedAt: now,
		ExpiresAt:  now.Add(ttl),
		Status:     ReservationActive,
	}
}

func (r Reservation) ExpiredAt(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// HoldsStock reports whether the reservation's units are currently removed
// from the sellable pool.
func (r Reservation) HoldsStock() bool {
	return r.Status == ReservationActive || r.Status == ReservationCommitted
}
