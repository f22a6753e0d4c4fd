package domain

import (
	"errors"
	"time"
)

var ErrCartNotFound = errors.New("cart not found")

// Line is shopper intent: nothing is held until checkout locks it.
type Line struct {
	VariantID          string
	Quantity           int
	PriceSnapshotCents int64
}

type Cart struct {
	ID        string
	Lines     []Line
	UpdatedAt time.Time
}

// Quantities sums line quantities per variant.
func Quantities(lines []Line) map[string]int {
	out := make(map[string]int, len(lines))
	for _, l := range lines {
		out[l.VariantID] += l.Quantity
	}
	return out
}

func SubtotalCents(lines []Line) int64 {
	var total int64
	for _, l := range lines {
		total += int64(l.Quantity) * l.PriceSnapshotCents
	}
	return total
}
