package events

import (
	"sync/atomic"

	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
	dropped    atomic.Uint64
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(FormatChangedEvent{...})
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case FeedStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case FormatChangedEvent:
		event.Publish(b.dispatcher, e)
	case BufferProducedEvent:
		event.Publish(b.dispatcher, e)
	case BranchStatsEvent:
		event.Publish(b.dispatcher, e)
	case LevelEvent:
		event.Publish(b.dispatcher, e)
	case ScheduleChangedEvent:
		event.Publish(b.dispatcher, e)
	case RunFinishedEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type determines which events it receives.
// Returns an unsubscribe function; unknown handler types get a no-op.
// Usage: unsub := bus.Subscribe(func(e RunFinishedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(FeedStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FormatChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BufferProducedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BranchStatsEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LevelEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ScheduleChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RunFinishedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
