package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dmehra2102/drop-checkout/internal/order/domain"
	"github.com/dmehra2102/drop-checkout/pkg/outbox"
)

type captureWriter struct {
	events []outbox.Event
	err    error
}

func (w *captureWriter) Enqueue(_ context.Context, e outbox.Event) error {
	if w.err != nil {
		return w.err
	}
	w.events = append(w.events, e)
	return nil
}

func TestNotifier_OrderStatusChanged(t *testing.T) {
	w := &captureWriter{}
	n := NewNotifier(w)
	o := domain.NewOrder("o-1", "ORD-20260301-0001", "tok", domain.Customer{Name: "Ada", Email: "ada@example.com"},
		domain.PaymentCOD, nil, 0, time.Now())
	o.Status = domain.StatusCancelled

	if err := n.OrderStatusChanged(context.Background(), o, domain.StatusPending); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(w.events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(w.events))
	}
	e := w.events[0]
	if e.AggregateType != "order" || e.AggregateID != "o-1" || e.Type != domain.EventOrderStatusChanged {
		t.Errorf("Unexpected event envelope: %+v", e)
	}
	var body domain.OrderStatusChanged
	if err := json.Unmarshal(e.Payload, &body); err != nil {
		t.Fatalf("Expected JSON payload, got: %v", err)
	}
	if body.From != "PENDING" || body.To != "CANCELLED" || body.CustomerEmail != "ada@example.com" {
		t.Errorf("Unexpected payload: %+v", body)
	}
}

func TestNotifier_PropagatesWriterError(t *testing.T) {
	n := NewNotifier(&captureWriter{err: errors.New("db down")})
	err := n.OrderCreated(context.Background(), domain.Order{ID: "o-1"})
	if err == nil {
		t.Fatal("Expected writer error to be returned")
	}
}
