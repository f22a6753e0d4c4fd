package domain

import "time"

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type EventItem struct {
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
}

type OrderCreated struct {
	OrderID       string      `json:"order_id"`
	OrderNumber   string      `json:"order_number"`
	TrackingToken string      `json:"tracking_token"`
	CustomerName  string      `json:"customer_name"`
	CustomerEmail string      `json:"customer_email"`
	TotalCents    int64       `json:"total_cents"`
	PaymentMethod string      `json:"payment_method"`
	Items         []EventItem `json:"items"`
	CreatedAt     time.Time   `json:"created_at"`
}

type OrderStatusChanged struct {
	OrderID       string    `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	TrackingToken string    `json:"tracking_token"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	ChangedAt     time.Time `json:"changed_at"`
}

func NewOrderCreated(o Order) OrderCreated {
	items := make([]EventItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, EventItem{SKU: it.SKU, Name: it.Name, Quantity: it.Quantity, PriceCents: it.PriceCents})
	}
	return OrderCreated{
		OrderID:       o.ID,
		OrderNumber:   o.Number,
		TrackingToken: o.TrackingToken,
		CustomerName:  o.Customer.Name,
		CustomerEmail: o.Customer.Email,
		TotalCents:    o.TotalCents,
		PaymentMethod: string(o.PaymentMethod),
		Items:         items,
		CreatedAt:     o.CreatedAt,
	}
}

func NewOrderStatusChanged(o Order, from OrderStatus) OrderStatusChanged {
	return OrderStatusChanged{
		OrderID:       o.ID,
		OrderNumber:   o.Number,
		TrackingToken: o.TrackingToken,
		CustomerName:  o.Customer.Name,
		CustomerEmail: o.Customer.Email,
		From:          string(from),
		To:            string(o.Status),
		ChangedAt:     o.UpdatedAt,
	}
}
