package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeStore struct {
	mu     sync.Mutex
	events []Event
	sent   []int64
	failed map[int64]int
}

func (s *fakeStore) LockBatch(_ context.Context, relayID string, batchSize int, _ time.Duration) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for i := range s.events {
		if s.events[i].Status != StatusPending || len(out) == batchSize {
			continue
		}
		s.events[i].Status = StatusInProgress
		s.events[i].RelayID = relayID
		out = append(out, s.events[i])
	}
	return out, nil
}

func (s *fakeStore) MarkSent(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, ids...)
	for i := range s.events {
		for _, id := range ids {
			if s.events[i].ID == id {
				s.events[i].Status = StatusSent
			}
		}
	}
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id int64, _ string, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed == nil {
		s.failed = map[int64]int{}
	}
	s.failed[id]++
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Status = StatusPending
			if s.failed[id] >= maxAttempts {
				s.events[i].Status = StatusFailed
			}
		}
	}
	return nil
}

func (s *fakeStore) ExtendLease(context.Context, string, []int64, time.Duration) error { return nil }

type fakeProducer struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	failKey string
}

func (p *fakeProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		if string(m.Key) == p.failKey {
			return errors.New("broker unavailable")
		}
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func TestRelay_RunOncePublishesPending(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &fakeStore{events: []Event{
		{ID: 1, AggregateID: "o-1", Type: "OrderCreated", Payload: []byte(`{}`), Status: StatusPending, Traceparent: "00-abc-def-01"},
		{ID: 2, AggregateID: "o-2", Type: "OrderCreated", Payload: []byte(`{}`), Status: StatusPending},
	}}
	producer := &fakeProducer{}
	relay := NewRelay(log, store, NewDispatcher(log, producer, "order.events"), "relay-1")

	n, err := relay.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2 sent, got %d", n)
	}
	if len(producer.msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(producer.msgs))
	}
	msg := producer.msgs[0]
	if msg.Topic != "order.events" || string(msg.Key) != "o-1" {
		t.Errorf("Unexpected message topic/key: %s/%s", msg.Topic, msg.Key)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event_type"] != "OrderCreated" || headers["traceparent"] != "00-abc-def-01" {
		t.Errorf("Unexpected headers: %v", headers)
	}

	n, _ = relay.RunOnce(context.Background())
	if n != 0 {
		t.Errorf("Expected nothing left to send, got %d", n)
	}
}

func TestRelay_FailedEventsRetryThenGiveUp(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &fakeStore{events: []Event{
		{ID: 1, AggregateID: "bad", Type: "OrderCreated", Status: StatusPending},
	}}
	relay := NewRelay(log, store, NewDispatcher(log, &fakeProducer{failKey: "bad"}, "order.events"), "relay-1")
	relay.maxAttempts = 2

	for i := 0; i < 3; i++ {
		if _, err := relay.RunOnce(context.Background()); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}
	if store.failed[1] != 2 {
		t.Errorf("Expected 2 failed attempts, got %d", store.failed[1])
	}
	if store.events[0].Status != StatusFailed {
		t.Errorf("Expected event to be failed, got %s", store.events[0].Status)
	}
	if len(store.sent) != 0 {
		t.Errorf("Expected nothing sent, got %v", store.sent)
	}
}
