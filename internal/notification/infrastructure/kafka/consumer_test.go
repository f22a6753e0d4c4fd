package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
)

type memDedupe struct {
	seen map[string]bool
}

func (d *memDedupe) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("%s:%d:%d", topic, partition, offset)
}

func (d *memDedupe) Seen(_ context.Context, key string) (bool, error) {
	if d.seen[key] {
		return true, nil
	}
	d.seen[key] = true
	return false, nil
}

type sliceReader struct {
	msgs      []kafka.Message
	committed []int64
}

func (r *sliceReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *sliceReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *sliceReader) Close() error { return nil }

type countingHandler struct {
	calls int
	err   error
}

func (h *countingHandler) Handle(context.Context, string, []byte) error {
	h.calls++
	return h.err
}

func message(offset int64) kafka.Message {
	return kafka.Message{
		Topic: "order.events", Partition: 0, Offset: offset, Key: []byte("o-1"),
		Headers: []kafka.Header{{Key: "event_type", Value: []byte("OrderCreated")}},
		Value:   []byte(`{}`),
	}
}

func TestConsumer_SkipsRedelivery(t *testing.T) {
	reader := &sliceReader{msgs: []kafka.Message{message(1), message(1), message(2)}}
	handler := &countingHandler{}
	c := NewConsumer(slog.New(slog.NewTextHandler(io.Discard, nil)), reader, handler, &memDedupe{seen: map[string]bool{}})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Expected nil on drained reader, got: %v", err)
	}
	if handler.calls != 2 {
		t.Errorf("Expected 2 handled messages, got %d", handler.calls)
	}
	if len(reader.committed) != 3 {
		t.Errorf("Expected every message committed, got %v", reader.committed)
	}
}

func TestConsumer_HandlerFailureStillCommits(t *testing.T) {
	reader := &sliceReader{msgs: []kafka.Message{message(7)}}
	handler := &countingHandler{err: errors.New("smtp down")}
	c := NewConsumer(slog.New(slog.NewTextHandler(io.Discard, nil)), reader, handler, &memDedupe{seen: map[string]bool{}})

	_ = c.Run(context.Background())
	if len(reader.committed) != 1 || reader.committed[0] != 7 {
		t.Errorf("Expected offset 7 committed, got %v", reader.committed)
	}
}
