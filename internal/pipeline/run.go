// Package pipeline wires one feeding run: the loop, the feed scheduler and
// producer, the graph source and tee, and the fan-out branches. Every exit
// path (end-of-stream, graph error, contract violation, cancellation)
// converges on a single cleanup.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/feednode/internal/config"
	"github.com/smazurov/feednode/internal/events"
	"github.com/smazurov/feednode/internal/fanout"
	"github.com/smazurov/feednode/internal/feed"
	"github.com/smazurov/feednode/internal/graph"
	"github.com/smazurov/feednode/internal/logging"
	"github.com/smazurov/feednode/internal/loop"
	"github.com/smazurov/feednode/internal/media"
	"github.com/smazurov/feednode/internal/metrics"
	"github.com/smazurov/feednode/internal/negotiate"
	"github.com/smazurov/feednode/internal/sinks"
	"github.com/smazurov/feednode/internal/synth"
)

var (
	// ErrFinished is returned by operations on a run that has ended.
	ErrFinished = errors.New("run finished")
	// ErrUnproducible rejects a scheduled format the run's generator could
	// not synthesize, such as a plane count that does not match the fills.
	ErrUnproducible = errors.New("format not producible by this run")
)

// Publisher receives run events.
type Publisher interface {
	Publish(ev events.Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(events.Event) {}

// Phase is the lifecycle stage of a run.
type Phase string

// Run phases.
const (
	PhasePending  Phase = "pending"
	PhaseRunning  Phase = "running"
	PhaseFinished Phase = "finished"
)

// Status is a point-in-time view of a run, safe to read from any goroutine.
type Status struct {
	RunID       string        `json:"run_id" doc:"Run identifier"`
	Phase       Phase         `json:"phase" example:"running" doc:"pending, running or finished"`
	State       string        `json:"state" example:"feeding" doc:"Feed scheduler state"`
	NextSeq     uint64        `json:"next_seq" doc:"Sequence number of the next buffer"`
	Caps        string        `json:"caps" doc:"Caps of the last produced buffer"`
	PTS         time.Duration `json:"pts_ns" doc:"PTS of the last produced buffer"`
	QueuedBytes uint64        `json:"queued_bytes" doc:"Bytes waiting in the source queue"`
	StartedAt   time.Time     `json:"started_at,omitzero" doc:"Run start time"`
	Reason      string        `json:"reason,omitempty" doc:"Why the run ended"`
	Error       string        `json:"error,omitempty" doc:"Diagnostic for failed runs"`
}

// Run is one feeding session from first buffer to end-of-stream.
type Run struct {
	id        string
	cfg       Config
	publisher Publisher
	logger    *slog.Logger

	loop       *loop.Loop
	bus        *graph.Bus
	source     *graph.Source
	tee        *graph.Tee
	dist       *fanout.Distributor
	negotiator *negotiate.Negotiator
	gen        *synth.Generator
	producer   *feed.Producer
	scheduler  *feed.Scheduler

	started   atomic.Bool
	done      chan struct{}
	nextSeq   atomic.Uint64
	pts       atomic.Int64
	caps      atomic.Pointer[string]
	startedAt atomic.Pointer[time.Time]

	mu     sync.Mutex
	reason string
	err    error
}

// New builds a run. Nothing is started until Run is called.
func New(cfg Config, publisher Publisher) (*Run, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}

	r := &Run{
		id:        uuid.NewString(),
		cfg:       cfg,
		publisher: publisher,
		loop:      loop.New(),
		bus:       graph.NewBus(),
		done:      make(chan struct{}),
	}
	r.logger = logging.GetLogger("pipeline").With("run_id", r.id)
	caps := cfg.Initial.Caps()
	r.caps.Store(&caps)

	gen, err := newGenerator(cfg)
	if err != nil {
		return nil, err
	}
	r.gen = gen

	r.negotiator = negotiate.New(cfg.Initial)
	if err := r.negotiator.SetCycle(cfg.Every, cfg.Cycle); err != nil {
		return nil, fmt.Errorf("cycle: %w", err)
	}
	for _, ch := range cfg.Changes {
		if err := r.negotiator.Schedule(ch.Trigger, ch.Format); err != nil {
			return nil, fmt.Errorf("change at %d: %w", ch.Trigger, err)
		}
	}

	r.source = graph.NewSource("source", graph.SourceOptions{
		MaxBytes: cfg.MaxBytes,
		Sync:     cfg.Sync,
		Signals: graph.Signals{
			NeedData: func(size uint) {
				r.loop.Post(func() { r.scheduler.NeedData(size) })
			},
			EnoughData: func() {
				r.loop.Post(r.scheduler.EnoughData)
			},
		},
	})
	r.tee = graph.NewTee("tee", r.bus)

	r.producer, err = feed.NewProducer(gen, r.negotiator, r.source, cfg.MaxBuffers, feed.ProducerHooks{
		OnFormat: r.onFormat,
		OnBuffer: r.onBuffer,
	})
	if err != nil {
		return nil, err
	}
	r.scheduler = feed.NewScheduler(r.loop, r.producer, feed.SchedulerHooks{
		OnStateChange: r.onStateChange,
		OnExhausted:   r.onExhausted,
		OnFatal: func(err error) {
			r.bus.PostError("feed", err)
		},
	})

	specs := make([]fanout.BranchSpec, 0, len(cfg.Branches))
	for _, b := range cfg.Branches {
		consumer, err := sinks.New(b.ID, b.Sink, sinks.Hooks{
			OnLevel:  r.onLevel,
			OnBuffer: cfg.OnAppBuffer,
		})
		if err != nil {
			closeConsumers(specs)
			return nil, fmt.Errorf("branch %q: %w", b.ID, err)
		}
		specs = append(specs, fanout.BranchSpec{
			ID:       b.ID,
			Capacity: b.Capacity,
			Leak:     b.Leak,
			Stall:    b.Stall,
			Consumer: consumer,
		})
	}
	r.dist, err = fanout.New(r.tee, specs, fanout.Options{
		OnBranchError: r.onBranchError,
		OnEOS:         r.onDrained,
	})
	if err != nil {
		closeConsumers(specs)
		return nil, err
	}
	return r, nil
}

func newGenerator(cfg Config) (*synth.Generator, error) {
	if cfg.Initial.IsAudio() {
		return synth.NewAudioGenerator(cfg.ChunkBytes)
	}
	return synth.NewVideoGenerator(cfg.Fills), nil
}

func closeConsumers(specs []fanout.BranchSpec) {
	for _, s := range specs {
		s.Consumer.Close()
	}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Done is closed once the run has ended and cleaned up.
func (r *Run) Done() <-chan struct{} { return r.done }

// Run feeds the graph until end-of-stream, a fatal error or ctx is done.
// It returns nil on end-of-stream.
func (r *Run) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("run already started")
	}
	defer close(r.done)

	now := time.Now()
	r.startedAt.Store(&now)
	metrics.StartRun(r.id, r.cfg.Initial.Caps())
	r.logger.Info("Run starting", "caps", r.cfg.Initial.Caps(), "branches", r.dist.IDs(), "max_buffers", r.cfg.MaxBuffers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.dist.Connect(ctx); err != nil {
		return r.finish("error", fmt.Errorf("connect branches: %w", err))
	}

	var wg sync.WaitGroup
	loopCtx, stopLoop := context.WithCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.loop.Run(loopCtx)
	}()

	srcCtx, stopSource := context.WithCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.source.Run(srcCtx, r.tee); err != nil && !errors.Is(err, context.Canceled) {
			r.bus.PostError(r.source.Name(), err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.publishStats(loopCtx)
	}()

	defer func() {
		stopLoop()
		stopSource()
		wg.Wait()
		r.cleanup()
	}()

	reason, err := r.watch(ctx)
	return r.finish(reason, err)
}

// watch blocks on the graph bus until the run ends.
func (r *Run) watch(ctx context.Context) (string, error) {
	var (
		reason = "cancelled"
		result error
	)
	err := r.bus.Watch(ctx, func(msg graph.Message) bool {
		switch msg.Type {
		case graph.MessageEOS:
			r.logger.Info("End of stream", "source", msg.Source)
			reason = "eos"
			return false
		case graph.MessageError:
			reason = "error"
			if feed.IsContractError(msg.Err) {
				reason = "fatal"
			}
			var gerr *graph.Error
			if errors.As(msg.Err, &gerr) {
				result = msg.Err
			} else {
				result = fmt.Errorf("%s: %w", msg.Source, msg.Err)
			}
			return false
		case graph.MessageWarning:
			r.logger.Warn("Graph warning", "source", msg.Source, "error", msg.Err)
		}
		return true
	})
	if err != nil && result == nil {
		return reason, err
	}
	return reason, result
}

// cleanup runs after the loop goroutine has exited, so the scheduler may be
// touched directly.
func (r *Run) cleanup() {
	r.scheduler.Stop()
	r.source.SetFlushing(true)
	if err := r.dist.Release(); err != nil {
		r.logger.Warn("Branch release failed", "error", err)
	}
	stats := r.dist.Stats()
	metrics.SetBranchStats(stats)
	for _, s := range stats {
		r.logger.Debug("Branch finished", "branch", s.ID, "delivered", s.Delivered, "dropped", s.Dropped, "leaked", s.Leaked)
	}
}

func (r *Run) finish(reason string, err error) error {
	r.mu.Lock()
	r.reason = reason
	r.err = err
	r.mu.Unlock()

	ev := events.RunFinishedEvent{
		RunID:     r.id,
		Reason:    reason,
		Buffers:   r.nextSeq.Load(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		ev.Error = err.Error()
		r.logger.Error("Run failed", "reason", reason, "error", err)
	} else {
		r.logger.Info("Run finished", "reason", reason, "buffers", ev.Buffers)
	}
	r.publisher.Publish(ev)
	return err
}

// Schedule queues an explicit format change. It runs on the loop so the
// change is ordered with production. Formats the generator would refuse at
// the trigger are rejected here with ErrUnproducible.
func (r *Run) Schedule(ctx context.Context, trigger uint64, f *media.Format) error {
	return r.call(ctx, func() error {
		if err := r.gen.Accept(f); err != nil {
			return fmt.Errorf("%w: %w", ErrUnproducible, err)
		}
		return r.negotiator.Schedule(trigger, f)
	})
}

// ApplySchedule installs a reloaded schedule file. The cycle is replaced
// only when it differs from the active one, so an applied explicit change
// survives reloads that merely add entries. Changes whose trigger has
// passed are skipped.
func (r *Run) ApplySchedule(ctx context.Context, schedule config.ScheduleConfig) error {
	cycle, err := schedule.CycleFormats()
	if err != nil {
		return err
	}
	every := schedule.Every
	if every == 0 {
		every = negotiate.DefaultEvery
	}

	return r.call(ctx, func() error {
		for i, f := range cycle {
			if err := r.gen.Accept(f); err != nil {
				return fmt.Errorf("cycle entry %d: %w: %w", i, ErrUnproducible, err)
			}
		}
		curEvery, curTable := r.negotiator.Cycle()
		if !sameCycle(curEvery, curTable, every, cycle) {
			if err := r.negotiator.SetCycle(every, cycle); err != nil {
				return err
			}
			r.logger.Info("Cycle replaced", "every", every, "entries", len(cycle))
		}

		var errs []error
		next := r.negotiator.Next()
		for _, ch := range schedule.Changes {
			if ch.Trigger < next {
				r.logger.Debug("Skipping passed change", "trigger", ch.Trigger, "next", next)
				continue
			}
			f, err := ch.Format()
			if err == nil {
				err = r.gen.Accept(f)
				if err != nil {
					err = fmt.Errorf("change at %d: %w: %w", ch.Trigger, ErrUnproducible, err)
				}
			}
			if err == nil {
				err = r.negotiator.Schedule(ch.Trigger, f)
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			r.publisher.Publish(events.ScheduleChangedEvent{
				Trigger:   ch.Trigger,
				Caps:      ch.Caps,
				Source:    "file",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		}
		return errors.Join(errs...)
	})
}

func sameCycle(everyA uint64, a []*media.Format, everyB uint64, b []*media.Format) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) > 0 && everyA != everyB {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// call runs fn on the loop goroutine and waits for its result.
func (r *Run) call(ctx context.Context, fn func() error) error {
	select {
	case <-r.done:
		return ErrFinished
	default:
	}

	result := make(chan error, 1)
	r.loop.Post(func() { result <- fn() })

	select {
	case err := <-result:
		return err
	case <-r.done:
		return ErrFinished
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the explicit changes not yet applied.
func (r *Run) Pending() []negotiate.Change {
	return r.negotiator.Pending()
}

// Cycle returns the active cycle period and table.
func (r *Run) Cycle() (uint64, []*media.Format) {
	return r.negotiator.Cycle()
}

// Branches returns a stats snapshot of every branch.
func (r *Run) Branches() []fanout.BranchStats {
	return r.dist.Stats()
}

// Status returns a snapshot of the run.
func (r *Run) Status() Status {
	s := Status{
		RunID:   r.id,
		Phase:   PhasePending,
		State:   r.scheduler.State().String(),
		NextSeq: r.nextSeq.Load(),
		Caps:    *r.caps.Load(),
		PTS:     time.Duration(r.pts.Load()),
	}
	s.QueuedBytes, _ = r.source.Level()
	if t := r.startedAt.Load(); t != nil {
		s.StartedAt = *t
		s.Phase = PhaseRunning
	}
	select {
	case <-r.done:
		s.Phase = PhaseFinished
	default:
	}

	r.mu.Lock()
	s.Reason = r.reason
	if r.err != nil {
		s.Error = r.err.Error()
	}
	r.mu.Unlock()
	return s
}

// Result returns the end reason and error once the run has finished.
func (r *Run) Result() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason, r.err
}
