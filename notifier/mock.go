package notifier

import (
	"context"
	"sync"
)

// MockSink captures delivered events for tests.
type MockSink struct {
	mu         sync.Mutex
	events     []Event
	publishErr error
}

// NewMockSink creates a MockSink.
func NewMockSink() *MockSink {
	return &MockSink{}
}

// SetPublishErr makes subsequent Publish calls fail with err.
func (m *MockSink) SetPublishErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

func (m *MockSink) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MockSink) Close() error { return nil }

// Events returns a copy of the delivered events.
func (m *MockSink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// MockDispatcher records enqueued events without a worker, for tests that
// assert on what the engine emits.
type MockDispatcher struct {
	mu     sync.Mutex
	events []Event
}

// NewMockDispatcher creates a MockDispatcher.
func NewMockDispatcher() *MockDispatcher {
	return &MockDispatcher{}
}

func (m *MockDispatcher) Enqueue(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events returns a copy of the enqueued events.
func (m *MockDispatcher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

var (
	_ Sink       = (*MockSink)(nil) // Compile-time interface checks
	_ Dispatcher = (*MockDispatcher)(nil)
)
