package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	notifykafka "github.com/dmehra2102/drop-checkout/internal/notification/infrastructure/kafka"
	orderdomain "github.com/dmehra2102/drop-checkout/internal/order/domain"
	orderkafka "github.com/dmehra2102/drop-checkout/internal/order/infrastructure/kafka"
	"github.com/dmehra2102/drop-checkout/pkg/outbox"
)

type neverSeen struct{}

func (neverSeen) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("%s-%d-%d", topic, partition, offset)
}

func (neverSeen) Seen(context.Context, string) (bool, error) { return false, nil }

type captured struct {
	mu     sync.Mutex
	types  []string
	notify chan struct{}
}

func (c *captured) Handle(_ context.Context, eventType string, _ []byte) error {
	c.mu.Lock()
	c.types = append(c.types, eventType)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

func TestRelay_DeliversOrderEventsToConsumer(t *testing.T) {
	s := newStack(t)
	brokers := Kafka(t)
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	topic := "order-events-" + uuid.NewString()[:8]
	writer := orderkafka.NewWriter(brokers)
	defer writer.Close()
	relay := outbox.NewRelay(log, s.outbox, outbox.NewDispatcher(log, writer, topic), "it-relay")

	if err := s.outbox.Enqueue(ctx, outbox.Event{
		AggregateType: "order",
		AggregateID:   "o-1",
		Type:          orderdomain.EventOrderCreated,
		Payload:       []byte(`{"order_id":"o-1"}`),
	}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// The first write can race topic auto-creation; failed events go back to pending.
	for sent := 0; sent == 0; {
		n, err := relay.RunOnce(ctx)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		sent = n
		if sent == 0 {
			select {
			case <-ctx.Done():
				t.Fatal("Expected event to be relayed before timeout")
			case <-time.After(500 * time.Millisecond):
			}
		}
	}

	handler := &captured{notify: make(chan struct{}, 1)}
	reader := notifykafka.NewReader(brokers, topic, "it-notifications")
	consumer := notifykafka.NewConsumer(log, reader, handler, neverSeen{})
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- consumer.Run(runCtx) }()

	select {
	case <-handler.notify:
	case <-ctx.Done():
		t.Fatal("Expected consumer to receive the event before timeout")
	}
	stop()
	<-done

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.types) != 1 || handler.types[0] != orderdomain.EventOrderCreated {
		t.Errorf("Expected one %s event, got %v", orderdomain.EventOrderCreated, handler.types)
	}
}
