package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/feednode/internal/fanout"
	"github.com/smazurov/feednode/internal/media"
)

type signalLog struct {
	mu     sync.Mutex
	events []string
}

func (l *signalLog) add(s string) {
	l.mu.Lock()
	l.events = append(l.events, s)
	l.mu.Unlock()
}

func (l *signalLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type collector struct {
	mu   sync.Mutex
	bufs []*media.Buffer
	eos  chan struct{}
}

func newCollector() *collector { return &collector{eos: make(chan struct{})} }

func (c *collector) Push(b *media.Buffer) {
	c.mu.Lock()
	c.bufs = append(c.bufs, b)
	c.mu.Unlock()
}

func (c *collector) EndOfStream() { close(c.eos) }

func (c *collector) Offer(b *media.Buffer) bool {
	c.Push(b)
	return true
}

func (c *collector) Await(b *media.Buffer) { c.Push(b) }

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bufs)
}

func buffer(seq uint64, size int) *media.Buffer {
	return &media.Buffer{Seq: seq, Data: make([]byte, size), PTS: time.Duration(seq) * 10 * time.Millisecond, Duration: 10 * time.Millisecond}
}

func TestSourceSignalsAndEOS(t *testing.T) {
	log := &signalLog{}
	src := NewSource("src", SourceOptions{
		MaxBytes: 100,
		Signals: Signals{
			NeedData:   func(size uint) { log.add("need") },
			EnoughData: func() { log.add("enough") },
		},
	})
	out := newCollector()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, out) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(log.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no need-data signal")
		}
		time.Sleep(time.Millisecond)
	}

	for i := 0; i < 4; i++ {
		if err := src.Push(buffer(uint64(i), 40)); err != nil {
			t.Fatal(err)
		}
	}
	if err := src.EndOfStream(); err != nil {
		t.Fatal(err)
	}
	if err := src.Push(buffer(4, 40)); !errors.Is(err, ErrEOS) {
		t.Errorf("push after EOS = %v, want ErrEOS", err)
	}

	select {
	case <-out.eos:
	case <-time.After(2 * time.Second):
		t.Fatal("EOS not forwarded")
	}
	if err := <-done; err != nil {
		t.Errorf("Run = %v", err)
	}
	if out.count() != 4 {
		t.Errorf("forwarded %d buffers, want 4", out.count())
	}
	if events := log.snapshot(); events[0] != "need" {
		t.Errorf("signals = %v, want need first", events)
	}
}

func TestSourceEnoughDataAtLimit(t *testing.T) {
	enough := 0
	src := NewSource("src", SourceOptions{MaxBytes: 100, Signals: Signals{EnoughData: func() { enough++ }}})
	// Simulate a need-data having been emitted.
	src.starving = true

	_ = src.Push(buffer(0, 60))
	if enough != 0 {
		t.Fatal("enough-data below limit")
	}
	_ = src.Push(buffer(1, 60))
	_ = src.Push(buffer(2, 60))
	if enough != 1 {
		t.Errorf("enough-data emitted %d times, want 1", enough)
	}
	if bytes, n := src.Level(); bytes != 180 || n != 3 {
		t.Errorf("level = %d bytes %d buffers", bytes, n)
	}
}

func TestSourceFlushing(t *testing.T) {
	src := NewSource("src", SourceOptions{})
	_ = src.Push(buffer(0, 10))
	src.SetFlushing(true)
	if err := src.Push(buffer(1, 10)); !errors.Is(err, ErrFlushing) {
		t.Errorf("push while flushing = %v, want ErrFlushing", err)
	}
	if _, n := src.Level(); n != 0 {
		t.Errorf("queue holds %d buffers after flush", n)
	}
	src.SetFlushing(false)
	if err := src.Push(buffer(2, 10)); err != nil {
		t.Errorf("push after flush stop = %v", err)
	}
}

func TestSourceSyncPacesOutput(t *testing.T) {
	src := NewSource("src", SourceOptions{Sync: true})
	for i := 0; i < 6; i++ {
		_ = src.Push(buffer(uint64(i), 1))
	}
	_ = src.EndOfStream()

	out := newCollector()
	start := time.Now()
	if err := src.Run(context.Background(), out); err != nil {
		t.Fatal(err)
	}
	// Last buffer PTS is 50ms after the first.
	if elapsed := time.Since(start); elapsed < 45*time.Millisecond {
		t.Errorf("synced run took %v, want at least 50ms", elapsed)
	}
}

func TestTeeReplicatesAndReleases(t *testing.T) {
	bus := NewBus()
	tee := NewTee("tee", bus)
	a, b := newCollector(), newCollector()

	ha, err := tee.RequestBranch("a", a)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tee.RequestBranch("b", b); err != nil {
		t.Fatal(err)
	}
	if _, err := tee.RequestBranch("a", a); err == nil {
		t.Error("duplicate branch accepted")
	}
	if pads := tee.Pads(); pads["a"] != "src_0" || pads["b"] != "src_1" {
		t.Errorf("pads = %v", pads)
	}

	tee.Push(buffer(0, 1))
	if err := tee.ReleaseBranch(ha); err != nil {
		t.Fatal(err)
	}
	tee.Push(buffer(1, 1))

	if a.count() != 1 || b.count() != 2 {
		t.Errorf("a got %d, b got %d; want 1 and 2", a.count(), b.count())
	}

	var gerr *Error
	if err := tee.ReleaseBranch(ha); !errors.As(err, &gerr) || gerr.Code != CodeUnknownBranch {
		t.Errorf("second release = %v, want unknown branch error", err)
	}
}

func TestTeeEOSWithoutBranchesPostsToBus(t *testing.T) {
	bus := NewBus()
	tee := NewTee("tee", bus)
	tee.EndOfStream()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := bus.Pop(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != MessageEOS || msg.Source != "tee" {
		t.Errorf("message = %+v", msg)
	}
}

func TestBusOrder(t *testing.T) {
	bus := NewBus()
	bus.PostError("encode", errors.New("boom"))
	bus.Post(Message{Type: MessageEOS, Source: "tee"})

	var got []MessageType
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = bus.Watch(ctx, func(m Message) bool {
		got = append(got, m.Type)
		return len(got) < 2
	})
	if len(got) != 2 || got[0] != MessageError || got[1] != MessageEOS {
		t.Errorf("messages = %v", got)
	}
}

// gatedConsumer counts buffers; with a gate it blocks in Consume until the
// gate is closed.
type gatedConsumer struct {
	mu   sync.Mutex
	n    int
	gate chan struct{}
}

func (c *gatedConsumer) Consume(ctx context.Context, _ *media.Buffer) error {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return nil
}

func (c *gatedConsumer) Close() error { return nil }

func (c *gatedConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestTeeStuckBranchDoesNotStallSiblings(t *testing.T) {
	const stall = 200 * time.Millisecond

	tee := NewTee("tee", NewBus())
	visual, appsink := &gatedConsumer{}, &gatedConsumer{}
	encode := &gatedConsumer{gate: make(chan struct{})}
	d, err := fanout.New(tee, []fanout.BranchSpec{
		{ID: "visual", Capacity: 16, Leak: fanout.LeakNone, Stall: stall, Consumer: visual},
		{ID: "encode", Capacity: 16, Leak: fanout.LeakNone, Stall: stall, Consumer: encode},
		{ID: "appsink", Capacity: 16, Leak: fanout.LeakNone, Stall: stall, Consumer: appsink},
	}, fanout.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() {
		close(encode.gate)
		d.Release()
	}()

	start := time.Now()
	for i := range 40 {
		tee.Push(buffer(uint64(i), 16))
	}
	// encode fills after 17 buffers and costs at most a stall or two
	// before it starts dropping without waiting.
	if elapsed := time.Since(start); elapsed > 4*stall {
		t.Errorf("pushing 40 buffers took %v with one stuck branch", elapsed)
	}

	deadline := time.Now().Add(3 * time.Second)
	for visual.count() < 40 || appsink.count() < 40 {
		if time.Now().After(deadline) {
			t.Fatalf("siblings got %d and %d buffers, want 40", visual.count(), appsink.count())
		}
		time.Sleep(time.Millisecond)
	}

	stats := d.Stats()
	if stats[0].Dropped != 0 || stats[2].Dropped != 0 {
		t.Errorf("healthy branches dropped: %+v", stats)
	}
	if stats[1].Dropped < 22 {
		t.Errorf("stuck branch dropped %d, want at least 22", stats[1].Dropped)
	}
}
