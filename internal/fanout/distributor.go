// Package fanout connects one produced stream to several independently
// paced branches. Every branch owns a bounded queue and a consumer
// goroutine, so a slow branch only loses its own buffers.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/feednode/internal/logging"
	"github.com/smazurov/feednode/internal/media"
)

// BranchSink receives buffers replicated by the junction.
type BranchSink interface {
	// Offer hands buf over without blocking. It returns false when the
	// branch is full and wants the junction to call Await with the same
	// buffer.
	Offer(buf *media.Buffer) bool
	// Await waits a bounded time for room for buf, then queues or drops it.
	Await(buf *media.Buffer)
	EndOfStream()
}

// Replicate hands buf to every sink. Full sinks are waited on only after
// every other sink holds buf, and in parallel with each other, so one
// stuck branch costs its siblings at most one stall.
func Replicate(buf *media.Buffer, sinks []BranchSink) {
	var full []BranchSink
	for _, s := range sinks {
		if !s.Offer(buf) {
			full = append(full, s)
		}
	}

	switch len(full) {
	case 0:
		return
	case 1:
		full[0].Await(buf)
		return
	}

	var wg sync.WaitGroup
	for _, s := range full {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Await(buf)
		}()
	}
	wg.Wait()
}

// Handle identifies an acquired branch connection.
type Handle interface {
	BranchID() string
}

// Junction hands out branch connections at the fan-out point.
type Junction interface {
	RequestBranch(id string, sink BranchSink) (Handle, error)
	ReleaseBranch(h Handle) error
}

// Consumer processes the buffers of one branch. Consume is called from the
// branch goroutine only; Close is called once after the last buffer.
type Consumer interface {
	Consume(ctx context.Context, buf *media.Buffer) error
	Close() error
}

// BranchSpec describes one branch.
type BranchSpec struct {
	ID       string
	Capacity int
	Leak     LeakPolicy
	// Stall bounds how long the junction waits for room in a full LeakNone
	// queue before dropping. A branch that runs out its stall drops at once
	// until its consumer makes room again. Zero drops immediately.
	Stall    time.Duration
	Consumer Consumer
}

// Options are distributor callbacks. Both may be called from branch
// goroutines.
type Options struct {
	// OnBranchError is called when a consumer fails. The branch stops
	// consuming; the others continue.
	OnBranchError func(id string, err error)
	// OnEOS is called once every branch has drained after end-of-stream.
	OnEOS func()
}

// BranchStats is a snapshot of one branch.
type BranchStats struct {
	ID        string     `json:"id"`
	Leak      LeakPolicy `json:"leak"`
	Capacity  int        `json:"capacity"`
	Depth     int        `json:"depth"`
	Delivered uint64     `json:"delivered"`
	Dropped   uint64     `json:"dropped"`
	Leaked    uint64     `json:"leaked"`
	Failed    bool       `json:"failed"`
	Done      bool       `json:"done"`
}

type branch struct {
	spec   BranchSpec
	queue  *Queue
	handle Handle
	logger *slog.Logger

	delivered atomic.Uint64
	dropped   atomic.Uint64
	leaked    atomic.Uint64
	failed    atomic.Bool
	stalled   atomic.Bool
	done      chan struct{}
	eos       atomic.Bool
}

// Offer implements BranchSink. It never blocks.
func (b *branch) Offer(buf *media.Buffer) bool {
	r := b.queue.TryOffer(buf)
	if r == Full {
		if b.spec.Stall > 0 && !b.stalled.Load() {
			return false
		}
		r = Rejected
	}
	b.record(r)
	return true
}

// Await implements BranchSink.
func (b *branch) Await(buf *media.Buffer) {
	r := b.queue.Offer(buf)
	if r == Rejected && !b.stalled.Swap(true) {
		b.logger.Warn("Branch stalled, dropping until it drains", "stall", b.spec.Stall, "capacity", b.queue.Cap())
	}
	b.record(r)
}

func (b *branch) record(r OfferResult) {
	switch r {
	case Queued:
		if b.stalled.Swap(false) {
			b.logger.Info("Branch resumed", "dropped", b.dropped.Load())
		}
	case QueuedLeaked, Leaked:
		b.leaked.Add(1)
	case Rejected:
		if b.dropped.Add(1) == 1 {
			b.logger.Warn("Branch queue full, dropping buffers", "capacity", b.queue.Cap())
		}
	case Closed:
		b.dropped.Add(1)
	}
}

// EndOfStream implements BranchSink.
func (b *branch) EndOfStream() {
	b.eos.Store(true)
	b.queue.EndOfStream()
}

// Distributor owns the branches of one run.
type Distributor struct {
	junction Junction
	branches []*branch
	opts     Options
	logger   *slog.Logger

	mu        sync.Mutex
	connected int // branches acquired, in order
	released  bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	remaining atomic.Int32
}

// New validates the branch specs.
func New(junction Junction, specs []BranchSpec, opts Options) (*Distributor, error) {
	if len(specs) == 0 {
		return nil, errors.New("no branches configured")
	}

	logger := logging.GetLogger("fanout")
	seen := make(map[string]bool, len(specs))
	branches := make([]*branch, 0, len(specs))
	for _, spec := range specs {
		if spec.ID == "" {
			return nil, errors.New("branch id is required")
		}
		if seen[spec.ID] {
			return nil, fmt.Errorf("duplicate branch %q", spec.ID)
		}
		seen[spec.ID] = true
		if spec.Consumer == nil {
			return nil, fmt.Errorf("branch %q has no consumer", spec.ID)
		}
		if spec.Capacity < 1 {
			return nil, fmt.Errorf("branch %q: capacity must be positive", spec.ID)
		}
		leak, err := ParseLeakPolicy(string(spec.Leak))
		if err != nil {
			return nil, fmt.Errorf("branch %q: %w", spec.ID, err)
		}
		spec.Leak = leak

		branches = append(branches, &branch{
			spec:   spec,
			queue:  NewQueue(spec.Capacity, leak, spec.Stall),
			logger: logger.With("branch", spec.ID),
			done:   make(chan struct{}),
		})
	}

	return &Distributor{junction: junction, branches: branches, opts: opts, logger: logger}, nil
}

// Connect acquires every branch from the junction in order and starts the
// consumers. If any acquisition fails, the branches acquired so far are
// released in reverse order and the error is returned.
func (d *Distributor) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return errors.New("distributor already released")
	}
	if d.connected > 0 {
		return errors.New("distributor already connected")
	}

	for i, b := range d.branches {
		h, err := d.junction.RequestBranch(b.spec.ID, b)
		if err != nil {
			d.connected = i
			d.releaseLocked()
			return fmt.Errorf("request branch %q: %w", b.spec.ID, err)
		}
		b.handle = h
		d.logger.Debug("Branch connected", "branch", b.spec.ID, "capacity", b.spec.Capacity, "leak", b.spec.Leak)
	}
	d.connected = len(d.branches)

	ctx, d.cancel = context.WithCancel(ctx)
	d.remaining.Store(int32(len(d.branches)))
	for _, b := range d.branches {
		d.wg.Add(1)
		go d.consume(ctx, b)
	}
	return nil
}

func (d *Distributor) consume(ctx context.Context, b *branch) {
	defer d.wg.Done()
	defer close(b.done)

	for {
		buf, ok := b.queue.Pop()
		if !ok {
			break
		}
		if b.failed.Load() {
			continue
		}
		if err := b.spec.Consumer.Consume(ctx, buf); err != nil {
			b.failed.Store(true)
			b.queue.Abort()
			if ctx.Err() == nil {
				b.logger.Error("Branch consumer failed", "error", err)
				if d.opts.OnBranchError != nil {
					d.opts.OnBranchError(b.spec.ID, err)
				}
			}
			break
		}
		b.delivered.Add(1)
	}

	if err := b.spec.Consumer.Close(); err != nil {
		b.logger.Warn("Branch consumer close failed", "error", err)
		if !b.failed.Swap(true) && ctx.Err() == nil && d.opts.OnBranchError != nil {
			d.opts.OnBranchError(b.spec.ID, err)
		}
	}

	if d.remaining.Add(-1) == 0 && d.allEOS() && d.opts.OnEOS != nil {
		d.opts.OnEOS()
	}
}

func (d *Distributor) allEOS() bool {
	for _, b := range d.branches {
		if !b.eos.Load() && !b.failed.Load() {
			return false
		}
	}
	return true
}

// Release disconnects every acquired branch in reverse acquisition order,
// stops the consumers and waits for them. It is idempotent.
func (d *Distributor) Release() error {
	d.mu.Lock()
	err := d.releaseLocked()
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return err
}

func (d *Distributor) releaseLocked() error {
	if d.released {
		return nil
	}
	d.released = true

	var errs []error
	for i := d.connected - 1; i >= 0; i-- {
		b := d.branches[i]
		if err := d.junction.ReleaseBranch(b.handle); err != nil {
			errs = append(errs, fmt.Errorf("release branch %q: %w", b.spec.ID, err))
		}
		b.queue.Abort()
		d.logger.Debug("Branch released", "branch", b.spec.ID)
	}
	// Consumers that never started still own resources.
	if d.cancel == nil {
		for _, b := range d.branches {
			if err := b.spec.Consumer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close branch %q: %w", b.spec.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until every consumer goroutine has exited or ctx is done.
func (d *Distributor) Wait(ctx context.Context) error {
	for _, b := range d.branches {
		select {
		case <-b.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stats returns a snapshot of every branch in configuration order.
func (d *Distributor) Stats() []BranchStats {
	stats := make([]BranchStats, 0, len(d.branches))
	for _, b := range d.branches {
		done := false
		select {
		case <-b.done:
			done = true
		default:
		}
		stats = append(stats, BranchStats{
			ID:        b.spec.ID,
			Leak:      b.spec.Leak,
			Capacity:  b.spec.Capacity,
			Depth:     b.queue.Len(),
			Delivered: b.delivered.Load(),
			Dropped:   b.dropped.Load(),
			Leaked:    b.leaked.Load(),
			Failed:    b.failed.Load(),
			Done:      done,
		})
	}
	return stats
}

// IDs returns the branch ids in acquisition order.
func (d *Distributor) IDs() []string {
	ids := make([]string, len(d.branches))
	for i, b := range d.branches {
		ids[i] = b.spec.ID
	}
	return ids
}
