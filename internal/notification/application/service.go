package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	orderdomain "github.com/dmehra2102/drop-checkout/internal/order/domain"
)

var ErrUnknownEvent = errors.New("unknown event type")

type Message struct {
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, m Message) error
}

type Service struct {
	log         *slog.Logger
	mailer      Mailer
	frontendURL string
}

func NewService(log *slog.Logger, mailer Mailer, frontendURL string) *Service {
	return &Service{log: log, mailer: mailer, frontendURL: strings.TrimRight(frontendURL, "/")}
}

// Handle renders and sends the customer notification for one order event.
func (s *Service) Handle(ctx context.Context, eventType string, payload []byte) error {
	var (
		msg Message
		err error
	)
	switch eventType {
	case orderdomain.EventOrderCreated:
		msg, err = s.orderCreated(payload)
	case orderdomain.EventOrderStatusChanged:
		msg, err = s.statusChanged(payload)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, eventType)
	}
	if err != nil {
		return err
	}
	if msg.To == "" {
		s.log.Warn("notification skipped, no recipient", "event_type", eventType)
		return nil
	}
	return s.mailer.Send(ctx, msg)
}

func (s *Service) orderCreated(payload []byte) (Message, error) {
	var e orderdomain.OrderCreated
	if err := json.Unmarshal(payload, &e); err != nil {
		return Message{}, fmt.Errorf("decode %s: %w", orderdomain.EventOrderCreated, err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\nThanks for your order %s.\n\n", e.CustomerName, e.OrderNumber)
	for _, it := range e.Items {
		fmt.Fprintf(&b, "  %d x %s (%s)  %s\n", it.Quantity, it.Name, it.SKU, money(int64(it.Quantity)*it.PriceCents))
	}
	fmt.Fprintf(&b, "\nTotal: %s\nPayment: %s\nTrack your order: %s\n", money(e.TotalCents), e.PaymentMethod, s.trackingURL(e.TrackingToken))
	return Message{
		To:      e.CustomerEmail,
		Subject: "Order confirmation " + e.OrderNumber,
		Body:    b.String(),
	}, nil
}

var statusLines = map[string]string{
	string(orderdomain.StatusPaid):       "We have received your payment.",
	string(orderdomain.StatusConfirmed):  "Your order has been confirmed.",
	string(orderdomain.StatusProcessing): "Your order is being prepared.",
	string(orderdomain.StatusShipping):   "Your order is on its way.",
	string(orderdomain.StatusDelivered):  "Your order has been delivered.",
	string(orderdomain.StatusCancelled):  "Your order has been cancelled.",
}

func (s *Service) statusChanged(payload []byte) (Message, error) {
	var e orderdomain.OrderStatusChanged
	if err := json.Unmarshal(payload, &e); err != nil {
		return Message{}, fmt.Errorf("decode %s: %w", orderdomain.EventOrderStatusChanged, err)
	}
	line, ok := statusLines[e.To]
	if !ok {
		line = "Your order status is now " + e.To + "."
	}
	return Message{
		To:      e.CustomerEmail,
		Subject: fmt.Sprintf("Order %s update: %s", e.OrderNumber, e.To),
		Body:    fmt.Sprintf("Hi %s,\n\n%s\n\nTrack your order: %s\n", e.CustomerName, line, s.trackingURL(e.TrackingToken)),
	}, nil
}

func (s *Service) trackingURL(token string) string {
	return s.frontendURL + "/track/" + token
}

func money(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
