// Package loop implements a single-threaded cooperative main loop with a
// message queue and recurring idle sources.
package loop

import (
	"context"
	"sync"
)

// SourceID identifies a registered idle source. Zero is never a valid id.
type SourceID uint64

// IdleFunc is one tick of an idle source. Returning false removes the
// source.
type IdleFunc func() bool

type idleSource struct {
	id      SourceID
	fn      IdleFunc
	removed bool
}

// Loop runs posted messages and idle sources on the goroutine that calls
// Run. Post is safe from any goroutine; AddIdle and Remove must be called
// from the loop goroutine.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	notify  chan struct{}
	sources []*idleSource
	nextID  SourceID
}

// New creates an idle loop.
func New() *Loop {
	return &Loop{notify: make(chan struct{}, 1)}
}

// Post queues fn to run on the loop goroutine. The queue is unbounded so
// posting never blocks the caller.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// AddIdle registers fn to run once per loop iteration until it returns
// false or is removed.
func (l *Loop) AddIdle(fn IdleFunc) SourceID {
	l.nextID++
	l.sources = append(l.sources, &idleSource{id: l.nextID, fn: fn})
	return l.nextID
}

// Remove deregisters a source. It takes effect before the next tick and
// reports whether the source was registered.
func (l *Loop) Remove(id SourceID) bool {
	for i, s := range l.sources {
		if s.id == id {
			s.removed = true
			l.sources = append(l.sources[:i], l.sources[i+1:]...)
			return true
		}
	}
	return false
}

// Sources returns the number of registered idle sources.
func (l *Loop) Sources() int { return len(l.sources) }

// Run processes messages and idle sources until ctx is cancelled. Each
// iteration drains all pending messages, then ticks every idle source once.
// With no idle sources Run blocks until a message arrives.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.drain()

		if len(l.sources) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.notify:
			}
			continue
		}

		tick := append([]*idleSource(nil), l.sources...)
		for _, s := range tick {
			if s.removed {
				continue
			}
			if !s.fn() && !s.removed {
				l.Remove(s.id)
			}
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
	}
}
