package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/feednode/internal/media"
)

type testHandle string

func (h testHandle) BranchID() string { return string(h) }

// testJunction is a minimal tee that records request/release order.
type testJunction struct {
	mu       sync.Mutex
	sinks    map[string]BranchSink
	order    []string
	events   []string
	failOn   string
	failFree string
}

func newTestJunction() *testJunction {
	return &testJunction{sinks: make(map[string]BranchSink)}
}

func (j *testJunction) RequestBranch(id string, sink BranchSink) (Handle, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if id == j.failOn {
		return nil, errors.New("no free pad")
	}
	j.sinks[id] = sink
	j.order = append(j.order, id)
	j.events = append(j.events, "request:"+id)
	return testHandle(id), nil
}

func (j *testJunction) ReleaseBranch(h Handle) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.sinks, h.BranchID())
	for i, id := range j.order {
		if id == h.BranchID() {
			j.order = append(j.order[:i], j.order[i+1:]...)
			break
		}
	}
	j.events = append(j.events, "release:"+h.BranchID())
	if h.BranchID() == j.failFree {
		return errors.New("release failed")
	}
	return nil
}

func (j *testJunction) push(b *media.Buffer) {
	j.mu.Lock()
	defer j.mu.Unlock()
	sinks := make([]BranchSink, 0, len(j.order))
	for _, id := range j.order {
		sinks = append(sinks, j.sinks[id])
	}
	Replicate(b, sinks)
}

func (j *testJunction) eos() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, id := range j.order {
		j.sinks[id].EndOfStream()
	}
}

type collectConsumer struct {
	mu     sync.Mutex
	seqs   []uint64
	gate   chan struct{} // when non-nil, each Consume waits for a token
	fail   uint64        // fail at this seq when failSet
	failOn bool
	closed int
}

func (c *collectConsumer) Consume(ctx context.Context, b *media.Buffer) error {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.failOn && b.Seq == c.fail {
		return errors.New("encoder died")
	}
	c.mu.Lock()
	c.seqs = append(c.seqs, b.Seq)
	c.mu.Unlock()
	return nil
}

func (c *collectConsumer) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

func (c *collectConsumer) snapshot() ([]uint64, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.seqs...), c.closed
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// One branch stalls; the other still receives every buffer in order and
// pushing never blocks.
func TestSlowBranchDoesNotStallSiblings(t *testing.T) {
	j := newTestJunction()
	fast := &collectConsumer{}
	slow := &collectConsumer{gate: make(chan struct{})}

	eos := make(chan struct{})
	d, err := New(j, []BranchSpec{
		{ID: "appsink", Capacity: 200, Leak: LeakNone, Consumer: fast},
		{ID: "playback", Capacity: 4, Leak: LeakNone, Consumer: slow},
	}, Options{OnEOS: func() { close(eos) }})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	pushed := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			j.push(&media.Buffer{Seq: uint64(i)})
		}
		close(pushed)
	}()
	select {
	case <-pushed:
	case <-time.After(2 * time.Second):
		t.Fatal("pushing blocked on the stalled branch")
	}

	waitFor(t, "fast branch", func() bool {
		seqs, _ := fast.snapshot()
		return len(seqs) == 100
	})
	seqs, _ := fast.snapshot()
	for i, s := range seqs {
		if s != uint64(i) {
			t.Fatalf("fast branch got seq %d at %d", s, i)
		}
	}

	stats := d.Stats()
	if stats[0].Dropped != 0 || stats[0].Delivered != 100 {
		t.Errorf("fast stats = %+v", stats[0])
	}
	// The stalled consumer holds one buffer, the queue holds four.
	if stats[1].Dropped < 95 {
		t.Errorf("slow branch dropped %d, want at least 95", stats[1].Dropped)
	}

	close(slow.gate)
	j.eos()
	select {
	case <-eos:
	case <-time.After(2 * time.Second):
		t.Fatal("OnEOS not called after drain")
	}

	slowSeqs, closed := slow.snapshot()
	if closed != 1 {
		t.Errorf("slow consumer closed %d times", closed)
	}
	for i := 1; i < len(slowSeqs); i++ {
		if slowSeqs[i] <= slowSeqs[i-1] {
			t.Fatalf("slow branch out of order: %v", slowSeqs)
		}
	}
	if err := d.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestLeakPolicies(t *testing.T) {
	tests := []struct {
		policy     LeakPolicy
		want       []uint64
		wantLeaked bool
	}{
		{LeakDownstream, []uint64{7, 8, 9}, true},
		{LeakUpstream, []uint64{0, 1, 2}, true},
		{LeakNone, []uint64{0, 1, 2}, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			q := NewQueue(3, tt.policy, 0)
			leaked := false
			for i := 0; i < 10; i++ {
				switch q.Offer(&media.Buffer{Seq: uint64(i)}) {
				case Leaked, QueuedLeaked:
					leaked = true
				}
			}
			q.EndOfStream()

			var got []uint64
			for {
				b, ok := q.Pop()
				if !ok {
					break
				}
				got = append(got, b.Seq)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
			if leaked != tt.wantLeaked {
				t.Errorf("leaked = %v, want %v", leaked, tt.wantLeaked)
			}
		})
	}
}

func TestConnectFailureReleasesInReverse(t *testing.T) {
	j := newTestJunction()
	j.failOn = "wav"
	consumers := []*collectConsumer{{}, {}, {}, {}}

	d, err := New(j, []BranchSpec{
		{ID: "playback", Capacity: 1, Consumer: consumers[0]},
		{ID: "visual", Capacity: 1, Consumer: consumers[1]},
		{ID: "encode", Capacity: 1, Consumer: consumers[2]},
		{ID: "wav", Capacity: 1, Consumer: consumers[3]},
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Connect(context.Background()); err == nil {
		t.Fatal("Connect succeeded with failing junction")
	}

	want := []string{
		"request:playback", "request:visual", "request:encode",
		"release:encode", "release:visual", "release:playback",
	}
	if len(j.events) != len(want) {
		t.Fatalf("events = %v, want %v", j.events, want)
	}
	for i := range want {
		if j.events[i] != want[i] {
			t.Fatalf("events = %v, want %v", j.events, want)
		}
	}
	for i, c := range consumers {
		if _, closed := c.snapshot(); closed != 1 {
			t.Errorf("consumer %d closed %d times", i, closed)
		}
	}
	if err := d.Release(); err != nil {
		t.Errorf("second release: %v", err)
	}
	if len(j.events) != len(want) {
		t.Errorf("Release after failed Connect touched the junction: %v", j.events)
	}
}

func TestReleaseIsReverseAndIdempotent(t *testing.T) {
	j := newTestJunction()
	j.failFree = "visual"
	d, err := New(j, []BranchSpec{
		{ID: "playback", Capacity: 2, Consumer: &collectConsumer{}},
		{ID: "visual", Capacity: 2, Consumer: &collectConsumer{}},
		{ID: "appsink", Capacity: 2, Consumer: &collectConsumer{}},
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := d.Release(); err == nil {
		t.Error("Release did not report the failed release")
	}
	if err := d.Release(); err != nil {
		t.Errorf("second Release = %v, want nil", err)
	}

	want := []string{"release:appsink", "release:visual", "release:playback"}
	got := j.events[3:]
	if len(got) != len(want) {
		t.Fatalf("release events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("release events = %v, want %v", got, want)
		}
	}
	for _, s := range d.Stats() {
		if !s.Done {
			t.Errorf("branch %s still running after Release", s.ID)
		}
	}
}

func TestBranchErrorIsolated(t *testing.T) {
	j := newTestJunction()
	failing := &collectConsumer{fail: 3, failOn: true}
	healthy := &collectConsumer{}

	errCh := make(chan string, 1)
	d, err := New(j, []BranchSpec{
		{ID: "encode", Capacity: 16, Consumer: failing},
		{ID: "appsink", Capacity: 16, Consumer: healthy},
	}, Options{OnBranchError: func(id string, _ error) { errCh <- id }})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer d.Release()

	for i := 0; i < 10; i++ {
		j.push(&media.Buffer{Seq: uint64(i)})
	}

	select {
	case id := <-errCh:
		if id != "encode" {
			t.Errorf("error from branch %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("branch error not reported")
	}

	waitFor(t, "healthy branch", func() bool {
		seqs, _ := healthy.snapshot()
		return len(seqs) == 10
	})
	if !d.Stats()[0].Failed {
		t.Error("encode branch not marked failed")
	}
}

func TestNewValidates(t *testing.T) {
	c := &collectConsumer{}
	tests := []struct {
		name  string
		specs []BranchSpec
	}{
		{"empty", nil},
		{"missing id", []BranchSpec{{Capacity: 1, Consumer: c}}},
		{"duplicate", []BranchSpec{{ID: "a", Capacity: 1, Consumer: c}, {ID: "a", Capacity: 1, Consumer: c}}},
		{"zero capacity", []BranchSpec{{ID: "a", Consumer: c}}},
		{"no consumer", []BranchSpec{{ID: "a", Capacity: 1}}},
		{"bad leak", []BranchSpec{{ID: "a", Capacity: 1, Leak: "sideways", Consumer: c}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(newTestJunction(), tt.specs, Options{}); err == nil {
				t.Error("New succeeded, want error")
			}
		})
	}
}

func TestStallWaitsForRoom(t *testing.T) {
	q := NewQueue(1, LeakNone, time.Second)
	if q.Offer(&media.Buffer{Seq: 0}) != Queued {
		t.Fatal("first offer not queued")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Pop()
	}()

	start := time.Now()
	if got := q.Offer(&media.Buffer{Seq: 1}); got != Queued {
		t.Fatalf("offer after pop = %v, want Queued", got)
	}
	if time.Since(start) >= time.Second {
		t.Error("offer waited for the full stall timeout")
	}

	short := NewQueue(1, LeakNone, 10*time.Millisecond)
	short.Offer(&media.Buffer{})
	if got := short.Offer(&media.Buffer{}); got != Rejected {
		t.Errorf("offer on stalled queue = %v, want Rejected", got)
	}
}

func TestOfferAfterEndOfStream(t *testing.T) {
	q := NewQueue(2, LeakNone, 0)
	q.Offer(&media.Buffer{Seq: 1})
	q.EndOfStream()
	if got := q.Offer(&media.Buffer{Seq: 2}); got != Closed {
		t.Errorf("offer after EOS = %v, want Closed", got)
	}
	if b, ok := q.Pop(); !ok || b.Seq != 1 {
		t.Errorf("Pop = %v, %v; want queued buffer", b, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop after drain returned a buffer")
	}
}

func TestStalledBranchDropsUntilDrained(t *testing.T) {
	const stall = 50 * time.Millisecond

	j := newTestJunction()
	stuck := &collectConsumer{gate: make(chan struct{})}
	d, err := New(j, []BranchSpec{
		{ID: "encode", Capacity: 2, Leak: LeakNone, Stall: stall, Consumer: stuck},
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer d.Release()

	// The consumer takes seq 0 and blocks; seq 1 and 2 fill the queue.
	j.push(&media.Buffer{Seq: 0})
	waitFor(t, "consumer to take the first buffer", func() bool { return d.Stats()[0].Depth == 0 })
	j.push(&media.Buffer{Seq: 1})
	j.push(&media.Buffer{Seq: 2})

	start := time.Now()
	j.push(&media.Buffer{Seq: 3})
	if waited := time.Since(start); waited < stall {
		t.Errorf("full branch waited %v, want at least %v", waited, stall)
	}

	start = time.Now()
	for i := 4; i < 20; i++ {
		j.push(&media.Buffer{Seq: uint64(i)})
	}
	if waited := time.Since(start); waited >= stall {
		t.Errorf("stalled branch held the junction for %v", waited)
	}
	if got := d.Stats()[0].Dropped; got != 17 {
		t.Errorf("dropped = %d, want 17", got)
	}

	// Once the consumer drains, the branch queues again.
	close(stuck.gate)
	waitFor(t, "drain", func() bool {
		seqs, _ := stuck.snapshot()
		return len(seqs) == 3
	})
	j.push(&media.Buffer{Seq: 20})
	waitFor(t, "resumed delivery", func() bool {
		seqs, _ := stuck.snapshot()
		return len(seqs) == 4 && seqs[3] == 20
	})
}

func TestReplicateWaitsForFullSinksInParallel(t *testing.T) {
	const stall = 100 * time.Millisecond

	j := newTestJunction()
	var specs []BranchSpec
	var gates []chan struct{}
	for _, id := range []string{"a", "b", "c"} {
		c := &collectConsumer{gate: make(chan struct{})}
		gates = append(gates, c.gate)
		specs = append(specs, BranchSpec{ID: id, Capacity: 1, Leak: LeakNone, Stall: stall, Consumer: c})
	}
	d, err := New(j, specs, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() {
		for _, g := range gates {
			close(g)
		}
		d.Release()
	}()

	j.push(&media.Buffer{Seq: 0})
	waitFor(t, "consumers to take the first buffer", func() bool {
		for _, s := range d.Stats() {
			if s.Depth != 0 {
				return false
			}
		}
		return true
	})
	j.push(&media.Buffer{Seq: 1})

	start := time.Now()
	j.push(&media.Buffer{Seq: 2})
	if waited := time.Since(start); waited >= 2*stall {
		t.Errorf("three full branches took %v, want one stall of %v", waited, stall)
	}
	for _, s := range d.Stats() {
		if s.Dropped != 1 {
			t.Errorf("branch %s dropped %d, want 1", s.ID, s.Dropped)
		}
	}
}
