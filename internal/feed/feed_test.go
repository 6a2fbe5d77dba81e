package feed

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/smazurov/feednode/internal/clock"
	"github.com/smazurov/feednode/internal/loop"
	"github.com/smazurov/feednode/internal/media"
	"github.com/smazurov/feednode/internal/negotiate"
	"github.com/smazurov/feednode/internal/synth"
)

// fakeTasks runs idle sources only when the test calls tick.
type fakeTasks struct {
	next    loop.SourceID
	sources map[loop.SourceID]loop.IdleFunc
	order   []loop.SourceID
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{sources: make(map[loop.SourceID]loop.IdleFunc)}
}

func (f *fakeTasks) AddIdle(fn loop.IdleFunc) loop.SourceID {
	f.next++
	f.sources[f.next] = fn
	f.order = append(f.order, f.next)
	return f.next
}

func (f *fakeTasks) Remove(id loop.SourceID) bool {
	if _, ok := f.sources[id]; !ok {
		return false
	}
	delete(f.sources, id)
	return true
}

func (f *fakeTasks) tick() {
	for _, id := range f.order {
		fn, ok := f.sources[id]
		if !ok {
			continue
		}
		if !fn() {
			delete(f.sources, id)
		}
	}
}

type recordingPusher struct {
	bufs   []*media.Buffer
	reject func(seq uint64) bool
}

func (p *recordingPusher) Push(buf *media.Buffer) error {
	if p.reject != nil && p.reject(buf.Seq) {
		return errors.New("flushing")
	}
	p.bufs = append(p.bufs, buf)
	return nil
}

func newAudioRig(t *testing.T, maxBuffers uint64, hooks SchedulerHooks) (*Scheduler, *fakeTasks, *recordingPusher) {
	t.Helper()
	f, err := media.NewAudioFormat(44100, 1)
	if err != nil {
		t.Fatal(err)
	}
	gen, err := synth.NewAudioGenerator(2048)
	if err != nil {
		t.Fatal(err)
	}
	out := &recordingPusher{}
	prod, err := NewProducer(gen, negotiate.New(f), out, maxBuffers, ProducerHooks{})
	if err != nil {
		t.Fatal(err)
	}
	tasks := newFakeTasks()
	return NewScheduler(tasks, prod, hooks), tasks, out
}

func assertContiguous(t *testing.T, bufs []*media.Buffer) {
	t.Helper()
	for i, b := range bufs {
		if b.Seq != uint64(i) {
			t.Fatalf("buffer %d has seq %d", i, b.Seq)
		}
	}
}

// Enough-data mid-run stops the next tick; need-data resumes from
// the next sequence number.
func TestEnoughDataStopsAndResumes(t *testing.T) {
	s, tasks, out := newAudioRig(t, 0, SchedulerHooks{})

	s.NeedData(4096)
	for i := 0; i < 5; i++ {
		tasks.tick()
	}
	if len(out.bufs) != 5 {
		t.Fatalf("produced %d buffers, want 5", len(out.bufs))
	}

	s.EnoughData()
	if s.State() != StateIdle {
		t.Fatalf("state = %s, want idle", s.State())
	}
	tasks.tick()
	tasks.tick()
	if len(out.bufs) != 5 {
		t.Fatalf("produced %d buffers while idle", len(out.bufs))
	}

	s.NeedData(4096)
	for i := 0; i < 3; i++ {
		tasks.tick()
	}
	if len(out.bufs) != 8 {
		t.Fatalf("produced %d buffers, want 8", len(out.bufs))
	}
	assertContiguous(t, out.bufs)

	wantDur := time.Duration(clock.Scale(1024, clock.Second, 44100))
	for i := 1; i < len(out.bufs); i++ {
		if out.bufs[i].PTS <= out.bufs[i-1].PTS {
			t.Fatalf("PTS not increasing at %d", i)
		}
		if out.bufs[i].Duration != wantDur {
			t.Fatalf("buffer %d duration %v, want %v", i, out.bufs[i].Duration, wantDur)
		}
	}
}

func TestSignalsAreIdempotent(t *testing.T) {
	var transitions []string
	s, tasks, _ := newAudioRig(t, 0, SchedulerHooks{
		OnStateChange: func(_, updated State, reason string) {
			transitions = append(transitions, updated.String()+":"+reason)
		},
	})

	s.EnoughData()
	s.NeedData(1)
	s.NeedData(1)
	s.NeedData(1)
	if len(tasks.sources) != 1 {
		t.Fatalf("%d sources registered, want 1", len(tasks.sources))
	}
	s.EnoughData()
	s.EnoughData()
	if len(tasks.sources) != 0 {
		t.Fatalf("%d sources registered after enough-data", len(tasks.sources))
	}

	want := []string{"feeding:need-data", "idle:enough-data"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

// For random signal sequences there is never more than one registered task
// and nothing is produced while idle.
func TestRandomSignalSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 50; run++ {
		s, tasks, out := newAudioRig(t, 0, SchedulerHooks{})

		for step := 0; step < 200; step++ {
			switch rng.Intn(3) {
			case 0:
				s.NeedData(uint(rng.Intn(8192)))
			case 1:
				s.EnoughData()
			case 2:
				before := len(out.bufs)
				idle := s.State() == StateIdle
				tasks.tick()
				if idle && len(out.bufs) != before {
					t.Fatalf("run %d step %d: produced while idle", run, step)
				}
			}
			if len(tasks.sources) > 1 {
				t.Fatalf("run %d step %d: %d tasks registered", run, step, len(tasks.sources))
			}
			if (s.State() == StateFeeding) != (len(tasks.sources) == 1) {
				t.Fatalf("run %d step %d: state %s with %d tasks", run, step, s.State(), len(tasks.sources))
			}
		}
		assertContiguous(t, out.bufs)
	}
}

func TestPushFailureForcesIdle(t *testing.T) {
	var reasons []string
	s, tasks, out := newAudioRig(t, 0, SchedulerHooks{
		OnStateChange: func(_, _ State, reason string) { reasons = append(reasons, reason) },
	})
	out.reject = func(seq uint64) bool { return seq == 3 }

	s.NeedData(0)
	for i := 0; i < 10; i++ {
		tasks.tick()
	}
	if s.State() != StateIdle || len(tasks.sources) != 0 {
		t.Fatalf("state %s with %d tasks after rejected push", s.State(), len(tasks.sources))
	}
	if len(out.bufs) != 3 {
		t.Fatalf("accepted %d buffers, want 3", len(out.bufs))
	}

	s.NeedData(0)
	tasks.tick()
	if last := out.bufs[len(out.bufs)-1]; last.Seq != 4 {
		t.Errorf("resumed at seq %d, want 4", last.Seq)
	}
	if reasons[1] != "push-failed" {
		t.Errorf("reasons = %v", reasons)
	}
}

func TestExhaustedStopsFeeding(t *testing.T) {
	exhausted := 0
	s, tasks, out := newAudioRig(t, 4, SchedulerHooks{OnExhausted: func() { exhausted++ }})

	s.NeedData(0)
	for i := 0; i < 10; i++ {
		tasks.tick()
	}
	if len(out.bufs) != 4 || exhausted != 1 {
		t.Fatalf("produced %d buffers, exhausted %d times", len(out.bufs), exhausted)
	}
	if !s.Stopped() {
		t.Error("scheduler not stopped after exhaustion")
	}

	s.NeedData(0)
	if len(tasks.sources) != 0 {
		t.Error("need-data re-registered after exhaustion")
	}
}

func TestStopIgnoresLaterNeedData(t *testing.T) {
	s, tasks, _ := newAudioRig(t, 0, SchedulerHooks{})
	s.NeedData(0)
	s.Stop()
	s.Stop()
	if s.State() != StateIdle || len(tasks.sources) != 0 {
		t.Fatalf("state %s with %d tasks after Stop", s.State(), len(tasks.sources))
	}
	s.NeedData(0)
	if s.State() != StateIdle {
		t.Error("need-data after Stop resumed feeding")
	}
}

func TestDoubleRegistrationIsFatal(t *testing.T) {
	var fatal error
	s, tasks, _ := newAudioRig(t, 0, SchedulerHooks{OnFatal: func(err error) { fatal = err }})

	stale := tasks.AddIdle(func() bool { return true })
	s.source = stale
	s.NeedData(0)

	var ce *ContractError
	if !errors.As(fatal, &ce) || ce.Component != "feed" {
		t.Fatalf("fatal = %v, want feed ContractError", fatal)
	}
	if s.State() != StateIdle || len(tasks.sources) != 0 {
		t.Errorf("state %s with %d tasks after fatal", s.State(), len(tasks.sources))
	}
}

func TestPlaneMismatchIsFatal(t *testing.T) {
	i420, _ := media.NewVideoFormat(media.PixelI420, 16, 16, 30, 1)
	nv12, _ := media.NewVideoFormat(media.PixelNV12, 16, 16, 30, 1)

	n := negotiate.New(i420)
	if err := n.Schedule(2, nv12); err != nil {
		t.Fatal(err)
	}
	out := &recordingPusher{}
	prod, err := NewProducer(synth.NewVideoGenerator(synth.DefaultFills(3)), n, out, 0, ProducerHooks{})
	if err != nil {
		t.Fatal(err)
	}

	var fatal error
	tasks := newFakeTasks()
	s := NewScheduler(tasks, prod, SchedulerHooks{OnFatal: func(err error) { fatal = err }})
	s.NeedData(0)
	for i := 0; i < 5; i++ {
		tasks.tick()
	}

	if len(out.bufs) != 2 {
		t.Errorf("produced %d buffers, want 2", len(out.bufs))
	}
	var ce *ContractError
	if !errors.As(fatal, &ce) || ce.Component != "synth" || !errors.Is(fatal, synth.ErrPlaneMismatch) {
		t.Fatalf("fatal = %v, want synth ContractError wrapping ErrPlaneMismatch", fatal)
	}
	if !s.Stopped() {
		t.Error("scheduler not stopped after fatal error")
	}
}

func TestProducerFormatChangeRebasesClock(t *testing.T) {
	large, _ := media.NewVideoFormat(media.PixelI420, 1024, 768, 30, 1)
	small, _ := media.NewVideoFormat(media.PixelI420, 640, 480, 25, 1)
	n := negotiate.New(large)
	_ = n.Schedule(100, small)

	var changes []uint64
	out := &recordingPusher{}
	prod, err := NewProducer(synth.NewVideoGenerator(synth.DefaultFills(3)), n, out, 0, ProducerHooks{
		OnFormat: func(seq uint64, _, _ *media.Format) { changes = append(changes, seq) },
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 110; i++ {
		if err := prod.Produce(); err != nil {
			t.Fatal(err)
		}
	}

	if len(changes) != 1 || changes[0] != 100 {
		t.Fatalf("format changes at %v, want [100]", changes)
	}
	for i, b := range out.bufs {
		want := 1179648
		if i >= 100 {
			want = 460800
		}
		if len(b.Data) != want {
			t.Fatalf("buffer %d size %d, want %d", i, len(b.Data), want)
		}
		if i > 0 && b.PTS < out.bufs[i-1].End() {
			t.Fatalf("buffer %d PTS %d overlaps previous buffer", i, b.PTS)
		}
	}
	if out.bufs[100].Duration != 40*time.Millisecond {
		t.Errorf("duration after change = %v, want 40ms", out.bufs[100].Duration)
	}
}
