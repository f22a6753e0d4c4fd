package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusPaid       OrderStatus = "PAID"
	StatusConfirmed  OrderStatus = "CONFIRMED"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusShipping   OrderStatus = "SHIPPING"
	StatusDelivered  OrderStatus = "DELIVERED"
	StatusCancelled  OrderStatus = "CANCELLED"
)

var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusConfirmed, StatusCancelled, StatusPaid},
	StatusPaid:       {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipping, StatusCancelled},
	StatusShipping:   {StatusDelivered},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

func ParseStatus(s string) (OrderStatus, error) {
	st := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
	}
	return st, nil
}

func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

type PaymentMethod string

const (
	PaymentCOD          PaymentMethod = "COD"
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToUpper(strings.TrimSpace(s))); m {
	case PaymentCOD, PaymentBankTransfer:
		return m, nil
	}
	return "", fmt.Errorf("%w: payment method must be COD or BANK_TRANSFER", ErrInvalidInput)
}

type Customer struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

func (c Customer) Validate() error {
	if n := utf8.RuneCountInString(strings.TrimSpace(c.Name)); n < 2 || n > 100 {
		return fmt.Errorf("%w: name must be between 2 and 100 characters", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return fmt.Errorf("%w: email is not a valid address", ErrInvalidInput)
	}
	if strings.TrimSpace(c.Phone) == "" {
		return fmt.Errorf("%w: phone is required", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(c.Address)); n < 10 || n > 500 {
		return fmt.Errorf("%w: address must be between 10 and 500 characters", ErrInvalidInput)
	}
	return nil
}

// Item is a line snapshot; it never changes after the order is created.
type Item struct {
	VariantID  string
	SKU        string
	Name       string
	Quantity   int
	PriceCents int64
}

func (i Item) LineTotalCents() int64 {
	return int64(i.Quantity) * i.PriceCents
}

type Order struct {
	ID               string
	Number           string
	TrackingToken    string
	Customer         Customer
	Items            []Item
	SubtotalCents    int64
	ShippingFeeCents int64
	TotalCents       int64
	PaymentMethod    PaymentMethod
	Status           OrderStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func NewOrder(id, number, trackingToken string, customer Customer, payment PaymentMethod, items []Item, shippingFeeCents int64, now time.Time) Order {
	var subtotal int64
	for _, item := range items {
		subtotal += item.LineTotalCents()
	}
	now = now.UTC()
	return Order{
		ID:               id,
		Number:           number,
		TrackingToken:    trackingToken,
		Customer:         customer,
		Items:            items,
		SubtotalCents:    subtotal,
		ShippingFeeCents: shippingFeeCents,
		TotalCents:       subtotal + shippingFeeCents,
		PaymentMethod:    payment,
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// TransitionTo moves the order to status `to` if the transition table allows it.
func (o *Order) TransitionTo(to OrderStatus, now time.Time) error {
	if !o.Status.CanTransitionTo(to) {
		return &InvalidTransitionError{From: o.Status, To: to}
	}
	o.Status = to
	o.UpdatedAt = now.UTC()
	return nil
}

// FormatNumber renders the human order number for the n-th order of a day.
func FormatNumber(day time.Time, n int64) string {
	return fmt.Sprintf("ORD-%s-%04d", day.UTC().Format("20060102"), n)
}
