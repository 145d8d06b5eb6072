package telemetry

import (
	"context"
	"sync"
)

// Sink delivers events to their destination. Deliver is only ever called from
// the publisher's writer goroutine.
type Sink interface {
	Deliver(ctx context.Context, ev LogEvent) error
	Close() error
}

// Connector is implemented by sinks that must establish a connection first.
type Connector interface {
	Connect(ctx context.Context) error
}

// NoopSink discards every event.
type NoopSink struct{}

func (NoopSink) Deliver(context.Context, LogEvent) error { return nil }
func (NoopSink) Close() error                           { return nil }

// MemorySink keeps delivered events in memory. Used by local dry runs and tests.
type MemorySink struct {
	mu     sync.Mutex
	events []LogEvent
	// Fail, when set, is consulted before each delivery.
	Fail func(LogEvent) error
}

func (m *MemorySink) Deliver(_ context.Context, ev LogEvent) error {
	if m.Fail != nil {
		if err := m.Fail(ev); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *MemorySink) Close() error { return nil }

// Events returns a copy of the delivered events in delivery order.
func (m *MemorySink) Events() []LogEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEvent(nil), m.events...)
}

// Messages returns the delivered messages in delivery order.
func (m *MemorySink) Messages() []string {
	events := m.Events()
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Message
	}
	return out
}
