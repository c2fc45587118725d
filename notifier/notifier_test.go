package notifier

import (
	"errors"
	"testing"
	"time"
)

func waitForEvents(t *testing.T, sink *MockSink, want int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events := sink.Events()
		if len(events) >= want {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d", want, len(sink.Events()))
	return nil
}

func TestQueueDeliversEvents(t *testing.T) {
	sink := NewMockSink()
	queue := NewQueue(sink, 8, nil)

	queue.Enqueue(NewEvent(EventRequestCreated, "0xabc", 1, 2, "awaiting approval"))
	queue.Enqueue(NewEvent(EventRequestApproved, "0xdef", 1, 2, "approved"))

	events := waitForEvents(t, sink, 2)
	if events[0].Type != EventRequestCreated || events[1].Type != EventRequestApproved {
		t.Fatalf("events = %+v, want created then approved in order", events)
	}
	if events[0].Recipient != "0xabc" || events[0].BatchID != 1 || events[0].RequestID != 2 {
		t.Errorf("event = %+v, want the enqueued fields", events[0])
	}

	if err := queue.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestQueueCloseFlushesBuffer(t *testing.T) {
	sink := NewMockSink()
	queue := NewQueue(sink, 64, nil)

	for i := 0; i < 20; i++ {
		queue.Enqueue(NewEvent(EventReceiptConfirmed, "0xabc", uint(i), 0, "received"))
	}
	if err := queue.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := len(sink.Events()); got != 20 {
		t.Fatalf("delivered events = %d, want all 20 after Close", got)
	}
}

func TestQueueDeliveryFailureDoesNotStopDraining(t *testing.T) {
	sink := NewMockSink()
	sink.SetPublishErr(errors.New("broker down"))
	queue := NewQueue(sink, 8, nil)

	queue.Enqueue(NewEvent(EventRequestRejected, "0xabc", 1, 2, "rejected"))

	// Failed delivery is dropped; the worker keeps going.
	sink.SetPublishErr(nil)
	queue.Enqueue(NewEvent(EventRequestCancelled, "0xabc", 1, 2, "cancelled"))

	if err := queue.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	delivered := false
	for _, event := range sink.Events() {
		if event.Type == EventRequestCancelled {
			delivered = true
		}
	}
	if !delivered {
		t.Fatalf("events = %+v, want the post-recovery event delivered", sink.Events())
	}
}

func TestNewEventFillsIdentity(t *testing.T) {
	event := NewEvent(EventBatchRegistered, "0xabc", 4, 0, "registered")
	if event.ID == "" {
		t.Error("event id should be generated")
	}
	if event.OccurredAt.IsZero() {
		t.Error("occurred_at should be set")
	}
}
