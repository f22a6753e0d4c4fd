// Package outbox turns order notifications into outbox events.
package outbox

import (
	"context"
	"encoding/json"

	"github.com/dmehra2102/drop-checkout/internal/order/domain"
	"github.com/dmehra2102/drop-checkout/pkg/outbox"
	"github.com/dmehra2102/drop-checkout/pkg/tracing"
)

const aggregateType = "order"

type Notifier struct {
	writer outbox.Writer
}

func NewNotifier(writer outbox.Writer) *Notifier {
	return &Notifier{writer: writer}
}

func (n *Notifier) OrderCreated(ctx context.Context, o domain.Order) error {
	return n.enqueue(ctx, o.ID, domain.EventOrderCreated, domain.NewOrderCreated(o))
}

func (n *Notifier) OrderStatusChanged(ctx context.Context, o domain.Order, from domain.OrderStatus) error {
	return n.enqueue(ctx, o.ID, domain.EventOrderStatusChanged, domain.NewOrderStatusChanged(o, from))
}

func (n *Notifier) enqueue(ctx context.Context, orderID, eventType string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	carrier := tracing.Carrier(ctx)
	traceparent := carrier[tracing.TraceparentHeader]
	delete(carrier, tracing.TraceparentHeader)

	return n.writer.Enqueue(ctx, outbox.Event{
		AggregateType: aggregateType,
		AggregateID:   orderID,
		Type:          eventType,
		Payload:       payload,
		Headers:       carrier,
		Traceparent:   traceparent,
	})
}
