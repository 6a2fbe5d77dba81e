// Package negotiate decides which format descriptor applies to each
// produced buffer. Changes take effect only at buffer boundaries.
package negotiate

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/smazurov/feednode/internal/media"
)

// DefaultEvery is the default cycle period in buffers.
const DefaultEvery = 100

// ErrTriggerPassed is returned when scheduling a change for a sequence
// number that has already been produced.
var ErrTriggerPassed = errors.New("trigger sequence already produced")

// AcceptFunc validates a descriptor before it becomes current. An error
// vetoes the change and is fatal for the run.
type AcceptFunc func(*media.Format) error

// Change is an explicit format change applied from Trigger on.
type Change struct {
	Trigger uint64        `json:"trigger"`
	Format  *media.Format `json:"-"`
}

// Negotiator tracks the current descriptor, a table-driven cycle and a queue
// of explicit changes. MaybeApply is called from the producer; the other
// methods may be called from any goroutine.
type Negotiator struct {
	mu sync.Mutex

	current  *media.Format
	every    uint64
	table    []*media.Format
	pending  []Change
	override *media.Format
	next     uint64 // lowest sequence number not yet passed to MaybeApply
	accept   AcceptFunc
}

// New creates a negotiator starting at initial with no cycle.
func New(initial *media.Format) *Negotiator {
	return &Negotiator{current: initial, every: DefaultEvery}
}

// SetAccept installs the hook consulted before a descriptor is applied.
func (n *Negotiator) SetAccept(fn AcceptFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accept = fn
}

// SetCycle replaces the cycle table: buffer seq uses
// table[(seq/every) % len(table)]. An empty table disables cycling.
// Installing a cycle clears any explicit change already applied.
func (n *Negotiator) SetCycle(every uint64, table []*media.Format) error {
	if len(table) > 0 && every == 0 {
		return fmt.Errorf("cycle period must be positive")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for i, f := range table {
		if f == nil {
			return fmt.Errorf("cycle entry %d is nil", i)
		}
		if f.Kind() != n.current.Kind() {
			return fmt.Errorf("cycle entry %d: %s does not match %s stream", i, f, n.current.Kind())
		}
	}
	n.every = every
	n.table = append([]*media.Format(nil), table...)
	n.override = nil
	return nil
}

// Schedule queues f to become current at buffer trigger. A later call for
// the same trigger replaces the earlier one.
func (n *Negotiator) Schedule(trigger uint64, f *media.Format) error {
	if f == nil {
		return fmt.Errorf("nil format")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if f.Kind() != n.current.Kind() {
		return fmt.Errorf("%s does not match %s stream", f, n.current.Kind())
	}
	if trigger < n.next {
		return fmt.Errorf("%w: trigger %d, next buffer %d", ErrTriggerPassed, trigger, n.next)
	}

	i := sort.Search(len(n.pending), func(i int) bool { return n.pending[i].Trigger >= trigger })
	if i < len(n.pending) && n.pending[i].Trigger == trigger {
		n.pending[i].Format = f
		return nil
	}
	n.pending = append(n.pending, Change{})
	copy(n.pending[i+1:], n.pending[i:])
	n.pending[i] = Change{Trigger: trigger, Format: f}
	return nil
}

// MaybeApply resolves the descriptor for buffer seq. It reports whether the
// descriptor differs from the previous one. An accept hook error leaves the
// current descriptor unchanged.
func (n *Negotiator) MaybeApply(seq uint64) (*media.Format, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if seq < n.next {
		return nil, false, fmt.Errorf("sequence %d went backwards (next %d)", seq, n.next)
	}
	n.next = seq + 1

	target := n.current
	due := 0
	for due < len(n.pending) && n.pending[due].Trigger <= seq {
		due++
	}
	switch {
	case due > 0:
		n.override = n.pending[due-1].Format
		n.pending = n.pending[due:]
		target = n.override
	case n.override != nil:
		target = n.override
	case len(n.table) > 0:
		target = n.table[(seq/n.every)%uint64(len(n.table))]
	}

	if target.Equal(n.current) {
		return n.current, false, nil
	}
	if n.accept != nil {
		if err := n.accept(target); err != nil {
			return n.current, false, err
		}
	}
	n.current = target
	return n.current, true, nil
}

// Current returns the descriptor applied to the most recent buffer.
func (n *Negotiator) Current() *media.Format {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Pending returns the queued explicit changes ordered by trigger.
func (n *Negotiator) Pending() []Change {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Change(nil), n.pending...)
}

// Cycle returns the cycle period and table.
func (n *Negotiator) Cycle() (uint64, []*media.Format) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.every, append([]*media.Format(nil), n.table...)
}

// Next returns the sequence number of the next buffer to be produced.
func (n *Negotiator) Next() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.next
}
