package domain

import (
	"errors"
	"fmt"
)

var (
	ErrVariantNotFound     = errors.New("variant not found")
	ErrVariantInactive     = errors.New("variant is not available for sale")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationExpired  = errors.New("reservation is no longer active")
	ErrReservationConflict = errors.New("reservation is committed to another order")
	ErrInvalidQuantity     = errors.New("quantity must be positive")
)

type InsufficientStockError struct {
	VariantID string
	SKU       string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}
