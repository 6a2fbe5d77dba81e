// Package feed drives production of buffers from downstream demand.
//
// The Scheduler is an IDLE/FEEDING state machine. need-data registers a
// recurring production task on the loop, enough-data removes it, and a
// rejected push forces IDLE until the next need-data. All transitions run on
// the loop goroutine; the state itself is atomic so other goroutines can
// observe it.
package feed

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/smazurov/feednode/internal/logging"
	"github.com/smazurov/feednode/internal/loop"
)

// State is the scheduler state.
type State int32

const (
	StateIdle State = iota
	StateFeeding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFeeding:
		return "feeding"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Tasks registers recurring tasks on a single-threaded loop.
type Tasks interface {
	AddIdle(fn loop.IdleFunc) loop.SourceID
	Remove(id loop.SourceID) bool
}

// Producible produces one buffer per call.
type Producible interface {
	Produce() error
}

// SchedulerHooks are optional callbacks, invoked on the loop goroutine.
type SchedulerHooks struct {
	// OnStateChange observes every transition.
	OnStateChange func(old, updated State, reason string)
	// OnExhausted fires once when the producer reaches its buffer limit.
	OnExhausted func()
	// OnFatal receives contract violations. The scheduler is stopped.
	OnFatal func(err error)
}

// Scheduler toggles production based on demand signals.
type Scheduler struct {
	tasks    Tasks
	producer Producible
	hooks    SchedulerHooks
	logger   *slog.Logger

	state   atomic.Int32
	source  loop.SourceID
	stopped bool
}

// NewScheduler creates an idle scheduler.
func NewScheduler(tasks Tasks, producer Producible, hooks SchedulerHooks) *Scheduler {
	return &Scheduler{
		tasks:    tasks,
		producer: producer,
		hooks:    hooks,
		logger:   logging.GetLogger("feed"),
	}
}

// State returns the current state. Safe from any goroutine.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// NeedData handles the need-data signal. The requested size is advisory and
// only logged; buffer sizes follow the active format.
func (s *Scheduler) NeedData(size uint) {
	if s.stopped {
		return
	}
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateFeeding)) {
		s.logger.Debug("need-data while feeding", "size", size)
		return
	}
	if s.source != 0 {
		s.fatal(&ContractError{
			Component: "feed",
			Invariant: "at most one production task",
			Err:       fmt.Errorf("task %d still registered while idle", s.source),
		})
		return
	}

	s.source = s.tasks.AddIdle(s.tick)
	s.logger.Debug("Start feeding", "size", size, "source", s.source)
	s.notify(StateIdle, StateFeeding, "need-data")
}

// EnoughData handles the enough-data signal.
func (s *Scheduler) EnoughData() {
	if !s.state.CompareAndSwap(int32(StateFeeding), int32(StateIdle)) {
		return
	}
	s.deregister()
	s.logger.Debug("Stop feeding")
	s.notify(StateFeeding, StateIdle, "enough-data")
}

// Stop forces IDLE and ignores later need-data signals. Used on
// end-of-stream, errors and shutdown.
func (s *Scheduler) Stop() {
	s.stopped = true
	if s.state.CompareAndSwap(int32(StateFeeding), int32(StateIdle)) {
		s.deregister()
		s.notify(StateFeeding, StateIdle, "stop")
	}
}

// Stopped reports whether Stop has been called.
func (s *Scheduler) Stopped() bool { return s.stopped }

func (s *Scheduler) tick() bool {
	err := s.producer.Produce()
	if err == nil {
		return true
	}

	// The loop removes the source when the tick returns false.
	s.source = 0
	s.state.Store(int32(StateIdle))

	var pushErr *PushError
	switch {
	case errors.As(err, &pushErr):
		s.logger.Info("Push rejected, feeding paused", "seq", pushErr.Seq, "error", pushErr.Err)
		s.notify(StateFeeding, StateIdle, "push-failed")
	case errors.Is(err, ErrExhausted):
		s.stopped = true
		s.logger.Info("Buffer limit reached")
		s.notify(StateFeeding, StateIdle, "exhausted")
		if s.hooks.OnExhausted != nil {
			s.hooks.OnExhausted()
		}
	default:
		s.notify(StateFeeding, StateIdle, "error")
		s.fatal(err)
	}
	return false
}

func (s *Scheduler) deregister() {
	if s.source != 0 {
		s.tasks.Remove(s.source)
		s.source = 0
	}
}

func (s *Scheduler) fatal(err error) {
	s.stopped = true
	if s.state.CompareAndSwap(int32(StateFeeding), int32(StateIdle)) {
		s.deregister()
	}
	s.logger.Error("Feeding aborted", "error", err)
	if s.hooks.OnFatal != nil {
		s.hooks.OnFatal(err)
	}
}

func (s *Scheduler) notify(old, updated State, reason string) {
	if s.hooks.OnStateChange != nil {
		s.hooks.OnStateChange(old, updated, reason)
	}
}
