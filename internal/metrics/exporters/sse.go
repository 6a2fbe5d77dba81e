package exporters

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/smazurov/feednode/internal/events"
	"github.com/smazurov/feednode/internal/fanout"
	"github.com/smazurov/feednode/internal/metrics"
)

// EventPublisher receives the exported snapshots.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter polls the branch metrics cache and publishes a
// BranchStatsEvent whenever the snapshot differs from the last one sent.
type SSEExporter struct {
	publisher EventPublisher
	interval  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	last   []fanout.BranchStats
}

// NewSSEExporter creates an exporter publishing once per second.
func NewSSEExporter(publisher EventPublisher) *SSEExporter {
	return &SSEExporter{publisher: publisher, interval: time.Second}
}

// SetInterval changes the poll period. Call before Start.
func (s *SSEExporter) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// Start polls until ctx is done or Stop is called.
func (s *SSEExporter) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop ends polling and waits for the goroutine. Safe to call repeatedly.
func (s *SSEExporter) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *SSEExporter) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publish()
		}
	}
}

func (s *SSEExporter) publish() {
	branches := metrics.GetBranchStats()
	if len(branches) == 0 || slices.Equal(branches, s.last) {
		return
	}
	s.last = branches
	s.publisher.Publish(events.BranchStatsEvent{
		RunID:     metrics.GetFeedMetrics().RunID,
		Branches:  branches,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// EventTypes returns the SSE event names this exporter contributes to
// /api/events.
func EventTypes() map[string]any {
	return map[string]any{
		"branch-stats": events.BranchStatsEvent{},
	}
}
