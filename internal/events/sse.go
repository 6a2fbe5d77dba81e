package events

import "github.com/kelindar/event"

// SubscribeToChannel forwards events of type T to ch for huma SSE
// handlers, which select over a channel. A full channel drops the event so
// a slow client never stalls the publisher.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
			bus.dropped.Add(1)
		}
	})
}

// Dropped returns the number of events discarded for full SSE channels.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
