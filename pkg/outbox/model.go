package outbox

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	// StatusFailed is terminal: the event ran out of delivery attempts.
	StatusFailed Status = "failed"
)

// Event is one row of the outbox. It is written in, or right after, the
// business transaction and delivered at least once by a Relay.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	// Headers become kafka headers on delivery.
	Headers     map[string]string
	Traceparent string
	CreatedAt   time.Time

	Status   Status
	RelayID  string
	Attempts int
}
