// Package graph is the in-process downstream graph: a source element with a
// bounded byte queue that signals demand, a tee that replicates buffers to
// branch connections, and a bus for end-of-stream and error messages.
package graph

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/feednode/internal/media"
)

// DefaultMaxBytes is the default source queue limit.
const DefaultMaxBytes = 200000

// Downstream receives buffers from the source pump.
type Downstream interface {
	Push(buf *media.Buffer)
	EndOfStream()
}

// Signals are the demand callbacks of a Source. They are invoked from
// whichever goroutine changes the queue level and must not block.
type Signals struct {
	NeedData   func(size uint)
	EnoughData func()
}

// SourceOptions configure a Source.
type SourceOptions struct {
	// MaxBytes bounds the queue; zero uses DefaultMaxBytes.
	MaxBytes uint64
	// Sync paces forwarding by buffer timestamps against the wall clock.
	Sync    bool
	Signals Signals
}

// Source accepts pushed buffers into a queue bounded by byte size and
// forwards them downstream from its own goroutine. It emits need-data when
// the queue runs empty and enough-data once the queue reaches its limit.
type Source struct {
	name     string
	maxBytes uint64
	sync     bool
	signals  Signals

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*media.Buffer
	level    uint64
	starving bool // need-data emitted, enough-data not yet
	eos      bool
	flushing bool
	format   *media.Format
	pushed   uint64
}

// NewSource creates a source element.
func NewSource(name string, opts SourceOptions) *Source {
	maxBytes := opts.MaxBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxBytes
	}
	s := &Source{name: name, maxBytes: maxBytes, sync: opts.Sync, signals: opts.Signals}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Name returns the element name.
func (s *Source) Name() string { return s.name }

// Push queues buf. It never blocks; a full queue only emits enough-data.
func (s *Source) Push(buf *media.Buffer) error {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return ErrFlushing
	}
	if s.eos {
		s.mu.Unlock()
		return ErrEOS
	}

	s.queue = append(s.queue, buf)
	s.level += uint64(len(buf.Data))
	s.format = buf.Format
	s.pushed++
	enough := s.starving && s.level >= s.maxBytes
	if enough {
		s.starving = false
	}
	s.mu.Unlock()
	s.cond.Signal()

	if enough && s.signals.EnoughData != nil {
		s.signals.EnoughData()
	}
	return nil
}

// EndOfStream marks the end of input. Queued buffers are still delivered.
func (s *Source) EndOfStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flushing {
		return ErrFlushing
	}
	if s.eos {
		return ErrEOS
	}
	s.eos = true
	s.cond.Broadcast()
	return nil
}

// SetFlushing drops queued buffers and makes Push fail with ErrFlushing.
func (s *Source) SetFlushing(flushing bool) {
	s.mu.Lock()
	s.flushing = flushing
	s.starving = false
	if flushing {
		s.queue = nil
		s.level = 0
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Level returns the queued bytes and buffer count.
func (s *Source) Level() (bytes uint64, buffers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level, len(s.queue)
}

// Format returns the descriptor of the last pushed buffer.
func (s *Source) Format() *media.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Pushed returns the number of accepted buffers.
func (s *Source) Pushed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushed
}

// Run forwards queued buffers to out until end-of-stream is delivered,
// flushing starts or ctx is cancelled.
func (s *Source) Run(ctx context.Context, out Downstream) error {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	var (
		started bool
		base    time.Duration
		t0      time.Time
	)

	for {
		s.mu.Lock()
		need := len(s.queue) == 0 && !s.eos && !s.flushing && !s.starving
		if need {
			s.starving = true
		}
		free := s.maxBytes - min(s.level, s.maxBytes)
		s.mu.Unlock()

		if need && s.signals.NeedData != nil {
			s.signals.NeedData(uint(free))
		}

		s.mu.Lock()
		for len(s.queue) == 0 && !s.eos && !s.flushing && ctx.Err() == nil {
			s.cond.Wait()
		}
		if ctx.Err() != nil || s.flushing {
			s.mu.Unlock()
			return ctx.Err()
		}
		if len(s.queue) == 0 {
			// eos with an empty queue
			s.mu.Unlock()
			out.EndOfStream()
			return nil
		}
		buf := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.level -= uint64(len(buf.Data))
		s.mu.Unlock()

		if s.sync {
			if !started {
				started, base, t0 = true, buf.PTS, time.Now()
			}
			if err := sleepUntil(ctx, t0.Add(buf.PTS-base)); err != nil {
				return err
			}
		}
		out.Push(buf)
	}
}

func sleepUntil(ctx context.Context, deadline time.Time) error {
	d := time.Until(deadline)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
