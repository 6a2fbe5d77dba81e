package pipeline

import (
	"context"
	"time"

	"github.com/smazurov/feednode/internal/events"
	"github.com/smazurov/feednode/internal/feed"
	"github.com/smazurov/feednode/internal/graph"
	"github.com/smazurov/feednode/internal/media"
	"github.com/smazurov/feednode/internal/metrics"
	"github.com/smazurov/feednode/internal/sinks"
)

// Loop goroutine.
func (r *Run) onStateChange(old, updated feed.State, reason string) {
	metrics.SetFeedState(updated == feed.StateFeeding, reason)
	r.publisher.Publish(events.FeedStateChangedEvent{
		RunID:     r.id,
		State:     updated.String(),
		Previous:  old.String(),
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Loop goroutine.
func (r *Run) onFormat(seq uint64, old, updated *media.Format) {
	caps := updated.Caps()
	r.caps.Store(&caps)
	metrics.RecordFormatChange(caps)
	r.logger.Info("Format changed", "seq", seq, "from", old.String(), "to", updated.String())
	r.publisher.Publish(events.FormatChangedEvent{
		RunID:     r.id,
		Seq:       seq,
		From:      old.Caps(),
		To:        caps,
		PTSNanos:  int64(r.producer.NextPTS()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Loop goroutine.
func (r *Run) onBuffer(buf *media.Buffer) {
	r.nextSeq.Store(buf.Seq + 1)
	r.pts.Store(int64(buf.PTS))
	metrics.RecordBuffer(buf.Seq, len(buf.Data), buf.PTS)

	if n := r.cfg.BufferEventEvery; n > 0 && buf.Seq%n == 0 {
		r.publisher.Publish(events.BufferProducedEvent{
			RunID:         r.id,
			Seq:           buf.Seq,
			PTSNanos:      int64(buf.PTS),
			DurationNanos: int64(buf.Duration),
			Size:          len(buf.Data),
			Caps:          buf.Format.Caps(),
		})
	}
}

// Loop goroutine. Queued buffers still drain through the tee before the
// branches see end-of-stream.
func (r *Run) onExhausted() {
	if err := r.source.EndOfStream(); err != nil {
		r.logger.Debug("End of stream not delivered", "error", err)
	}
}

// Branch goroutine.
func (r *Run) onLevel(branch string, level sinks.Level) {
	r.publisher.Publish(events.LevelEvent{RunID: r.id, Branch: branch, Level: level})
}

// Branch goroutine. A failed branch stops on its own; the others keep
// consuming.
func (r *Run) onBranchError(id string, err error) {
	r.bus.Post(graph.Message{Type: graph.MessageWarning, Source: "branch " + id, Err: err})
}

// Branch goroutine, called once every branch has drained or failed.
func (r *Run) onDrained() {
	stats := r.dist.Stats()
	for _, s := range stats {
		if !s.Failed {
			r.bus.Post(graph.Message{Type: graph.MessageEOS, Source: "fanout"})
			return
		}
	}
	r.bus.PostError("fanout", &graph.Error{
		Element: "fanout",
		Code:    graph.CodeBranchFailed,
		Message: "every branch failed",
	})
}

func (r *Run) publishStats(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetBranchStats(r.dist.Stats())
		}
	}
}
