package exporters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/feednode/internal/events"
	"github.com/smazurov/feednode/internal/fanout"
	"github.com/smazurov/feednode/internal/metrics"
)

type mockEventBus struct {
	mu        sync.Mutex
	events    []events.Event
	published chan struct{}
}

func newMockEventBus() *mockEventBus {
	return &mockEventBus{
		events:    make([]events.Event, 0),
		published: make(chan struct{}, 100),
	}
}

func (m *mockEventBus) Publish(ev events.Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	select {
	case m.published <- struct{}{}:
	default:
	}
}

func (m *mockEventBus) getEvents() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]events.Event, len(m.events))
	copy(result, m.events)
	return result
}

func TestSSEExporterPublishesBranchStats(t *testing.T) {
	branchID := "sse-test-branch"
	metrics.StartRun("sse-run", "")
	metrics.SetBranchStats([]fanout.BranchStats{{ID: branchID, Delivered: 12, Leaked: 4}})
	defer metrics.DeleteBranchMetrics(branchID)

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.SetInterval(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	exporter.Start(ctx)

	select {
	case <-mock.published:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for metrics publish")
	}

	cancel()
	exporter.Stop()

	var found bool
	for _, ev := range mock.getEvents() {
		bse, ok := ev.(events.BranchStatsEvent)
		if !ok {
			continue
		}
		if bse.RunID != "sse-run" {
			t.Errorf("RunID = %q, want sse-run", bse.RunID)
		}
		for _, b := range bse.Branches {
			if b.ID == branchID {
				found = true
				if b.Delivered != 12 || b.Leaked != 4 {
					t.Errorf("branch stats = %+v", b)
				}
			}
		}
	}
	if !found {
		t.Error("expected BranchStatsEvent for test branch")
	}
}

func TestSSEExporterStopIdempotent(t *testing.T) {
	branchID := "sse-idempotent-branch"
	metrics.SetBranchStats([]fanout.BranchStats{{ID: branchID}})
	defer metrics.DeleteBranchMetrics(branchID)

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.SetInterval(10 * time.Millisecond)

	exporter.Start(context.Background())
	time.Sleep(30 * time.Millisecond)

	exporter.Stop()
	exporter.Stop()
	exporter.Stop()

	countAfterStop := len(mock.getEvents())
	time.Sleep(30 * time.Millisecond)
	if got := len(mock.getEvents()); got != countAfterStop {
		t.Errorf("events published after stop: got %d, want %d", got, countAfterStop)
	}
}

func TestSSEExporterStopBeforeStart(t *testing.T) {
	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.Stop()

	exporter.Start(t.Context())
	exporter.Stop()
}

func TestSSEExporterSkipsUnchangedSnapshots(t *testing.T) {
	branchID := "sse-unchanged-branch"
	metrics.SetBranchStats([]fanout.BranchStats{{ID: branchID, Delivered: 1}})
	defer metrics.DeleteBranchMetrics(branchID)

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.SetInterval(10 * time.Millisecond)
	exporter.Start(t.Context())

	time.Sleep(80 * time.Millisecond)
	if got := len(mock.getEvents()); got != 1 {
		t.Errorf("published %d events for a constant snapshot, want 1", got)
	}
	select {
	case <-mock.published:
	default:
	}

	metrics.SetBranchStats([]fanout.BranchStats{{ID: branchID, Delivered: 2}})
	select {
	case <-mock.published:
	case <-time.After(time.Second):
		t.Fatal("changed snapshot not published")
	}
	exporter.Stop()

	if got := len(mock.getEvents()); got != 2 {
		t.Errorf("published %d events, want 2", got)
	}
}

func TestEventTypes(t *testing.T) {
	if _, ok := EventTypes()["branch-stats"]; !ok {
		t.Error("expected branch-stats event type")
	}
}
