// Package notifier fans out custody events to recipients after the
// database transaction commits. Delivery is best effort and never feeds
// back into the state machine's guarantees.
package notifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a custody event.
type EventType string

const (
	EventBatchRegistered  EventType = "batch_registered"
	EventRequestCreated   EventType = "request_created"
	EventRequestApproved  EventType = "request_approved"
	EventRequestRejected  EventType = "request_rejected"
	EventRequestCancelled EventType = "request_cancelled"
	EventReceiptConfirmed EventType = "receipt_confirmed"
)

// Event is one outbound custody notification.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Recipient  string    `json:"recipient"`
	BatchID    uint      `json:"batch_id"`
	RequestID  uint      `json:"request_id,omitempty"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent builds an event with a fresh id and timestamp.
func NewEvent(eventType EventType, recipient string, batchID, requestID uint, message string) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Recipient:  recipient,
		BatchID:    batchID,
		RequestID:  requestID,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
}

// Dispatcher accepts events for delivery. Enqueue never blocks and never
// fails the caller.
type Dispatcher interface {
	Enqueue(event Event)
}

// Sink delivers events to their destination.
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Queue is a buffered in-process event queue drained by a single worker
// into a Sink. When the buffer is full the event is dropped with a
// warning rather than blocking the custody operation.
type Queue struct {
	ch   chan Event
	sink Sink
	log  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewQueue starts a queue with the given buffer size draining into sink.
func NewQueue(sink Sink, buffer int, log *slog.Logger) *Queue {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = slog.Default()
	}
	q := &Queue{
		ch:   make(chan Event, buffer),
		sink: sink,
		log:  log,
		done: make(chan struct{}),
	}
	go q.drain()
	return q
}

// Enqueue hands an event to the worker. A full buffer drops the event.
func (q *Queue) Enqueue(event Event) {
	select {
	case q.ch <- event:
	default:
		q.log.Warn("notification queue full, dropping event",
			"event_id", event.ID,
			"type", event.Type,
			"recipient", event.Recipient)
	}
}

// Close stops accepting events, flushes the buffer and closes the sink.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		close(q.ch)
	})
	<-q.done
	return q.sink.Close()
}

func (q *Queue) drain() {
	defer close(q.done)
	for event := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := q.sink.Publish(ctx, event); err != nil {
			q.log.Warn("notification delivery failed",
				"event_id", event.ID,
				"type", event.Type,
				"recipient", event.Recipient,
				"error", err)
		}
		cancel()
	}
}

var _ Dispatcher = (*Queue)(nil) // Compile-time interface check
