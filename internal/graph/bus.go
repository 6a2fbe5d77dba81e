package graph

import (
	"context"
	"sync"
)

// MessageType classifies bus messages.
type MessageType int

const (
	MessageEOS MessageType = iota
	MessageError
	MessageWarning
)

func (t MessageType) String() string {
	switch t {
	case MessageEOS:
		return "eos"
	case MessageError:
		return "error"
	case MessageWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Message is posted by graph elements for the application.
type Message struct {
	Type   MessageType
	Source string
	Err    error
}

// Bus carries messages from graph elements to one watcher. Post never
// blocks and never drops.
type Bus struct {
	mu     sync.Mutex
	queue  []Message
	notify chan struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{notify: make(chan struct{}, 1)}
}

// Post queues a message.
func (b *Bus) Post(msg Message) {
	b.mu.Lock()
	b.queue = append(b.queue, msg)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// PostError posts an error message from source.
func (b *Bus) PostError(source string, err error) {
	b.Post(Message{Type: MessageError, Source: source, Err: err})
}

// Pop blocks for the next message.
func (b *Bus) Pop(ctx context.Context) (Message, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			msg := b.queue[0]
			b.queue[0] = Message{}
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return msg, nil
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-b.notify:
		}
	}
}

// Watch delivers messages to fn until ctx is done or fn returns false.
func (b *Bus) Watch(ctx context.Context, fn func(Message) bool) error {
	for {
		msg, err := b.Pop(ctx)
		if err != nil {
			return err
		}
		if !fn(msg) {
			return nil
		}
	}
}
