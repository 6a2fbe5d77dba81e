package fanout

import (
	"fmt"
	"sync"
	"time"

	"github.com/smazurov/feednode/internal/media"
)

// LeakPolicy decides what a full branch queue does with the next buffer.
type LeakPolicy string

const (
	// LeakNone waits up to the queue's stall timeout for room, then rejects
	// the incoming buffer. The drop is counted against the branch.
	LeakNone LeakPolicy = "none"
	// LeakUpstream discards the incoming (newest) buffer.
	LeakUpstream LeakPolicy = "upstream"
	// LeakDownstream discards the oldest queued buffer to make room.
	LeakDownstream LeakPolicy = "downstream"
)

// ParseLeakPolicy validates a policy name. Empty means LeakNone.
func ParseLeakPolicy(s string) (LeakPolicy, error) {
	switch LeakPolicy(s) {
	case "", LeakNone:
		return LeakNone, nil
	case LeakUpstream, LeakDownstream:
		return LeakPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown leak policy %q", s)
	}
}

// OfferResult reports what happened to an offered buffer.
type OfferResult int

const (
	Queued OfferResult = iota
	// QueuedLeaked means the buffer was queued and an older one discarded.
	QueuedLeaked
	Leaked
	// Full is only returned by TryOffer, for a full LeakNone queue.
	Full
	Rejected
	Closed
)

// Queue is a bounded FIFO of buffers with one producer (the tee) and one
// consumer goroutine. Offer blocks for at most the stall timeout, and only
// under LeakNone.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	space  chan struct{}
	items  []*media.Buffer
	head   int
	count  int
	policy LeakPolicy
	stall  time.Duration
	eos    bool
	closed bool
}

// NewQueue creates a queue holding at most capacity buffers.
func NewQueue(capacity int, policy LeakPolicy, stall time.Duration) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{
		items:  make([]*media.Buffer, capacity),
		space:  make(chan struct{}, 1),
		policy: policy,
		stall:  stall,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// TryOffer enqueues b according to the leak policy without waiting. A full
// LeakNone queue returns Full and leaves b with the caller.
func (q *Queue) TryOffer(b *media.Buffer) OfferResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.offerLocked(b)
}

func (q *Queue) offerLocked(b *media.Buffer) OfferResult {
	if q.closed || q.eos {
		return Closed
	}
	if q.count < len(q.items) {
		q.push(b)
		return Queued
	}
	switch q.policy {
	case LeakDownstream:
		q.items[q.head] = nil
		q.head = (q.head + 1) % len(q.items)
		q.count--
		q.push(b)
		return QueuedLeaked
	case LeakUpstream:
		return Leaked
	}
	return Full
}

// Offer enqueues b, waiting up to the stall timeout for room in a full
// LeakNone queue. It never returns Full.
func (q *Queue) Offer(b *media.Buffer) OfferResult {
	if q.stall <= 0 {
		if r := q.TryOffer(b); r != Full {
			return r
		}
		return Rejected
	}

	deadline := time.Now().Add(q.stall)
	timer := time.NewTimer(q.stall)
	defer timer.Stop()
	for {
		q.mu.Lock()
		r := q.offerLocked(b)
		q.mu.Unlock()
		if r != Full {
			return r
		}
		if !time.Now().Before(deadline) {
			return Rejected
		}
		select {
		case <-q.space:
		case <-timer.C:
		}
	}
}

// push appends b (must hold lock, queue not full).
func (q *Queue) push(b *media.Buffer) {
	q.items[(q.head+q.count)%len(q.items)] = b
	q.count++
	q.cond.Signal()
}

func (q *Queue) signalSpace() {
	select {
	case q.space <- struct{}{}:
	default:
	}
}

// Pop blocks until a buffer is available. It returns false once the queue
// is aborted, or drained after end-of-stream.
func (q *Queue) Pop() (*media.Buffer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.eos && !q.closed {
		q.cond.Wait()
	}
	if q.closed || q.count == 0 {
		return nil, false
	}

	b := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % len(q.items)
	q.count--
	q.signalSpace()
	return b, true
}

// EndOfStream stops accepting buffers; Pop drains what is queued.
func (q *Queue) EndOfStream() {
	q.mu.Lock()
	q.eos = true
	q.mu.Unlock()
	q.cond.Broadcast()
	q.signalSpace()
}

// Abort discards queued buffers and wakes the consumer.
func (q *Queue) Abort() {
	q.mu.Lock()
	q.closed = true
	for i := range q.items {
		q.items[i] = nil
	}
	q.count = 0
	q.mu.Unlock()
	q.cond.Broadcast()
	q.signalSpace()
}

// Len returns the number of queued buffers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return len(q.items) }
