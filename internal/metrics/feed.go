// Package metrics provides Prometheus metrics for the feed and its branches.
// Every setter also updates a local cache read by the API and the SSE
// exporter.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	feedBuffers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feednode",
		Subsystem: "feed",
		Name:      "buffers_total",
		Help:      "Buffers produced and pushed",
	})

	feedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feednode",
		Subsystem: "feed",
		Name:      "bytes_total",
		Help:      "Payload bytes produced",
	})

	feedFormatChanges = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feednode",
		Subsystem: "feed",
		Name:      "format_changes_total",
		Help:      "Format renegotiations applied",
	})

	feedPushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feednode",
		Subsystem: "feed",
		Name:      "push_failures_total",
		Help:      "Buffers rejected by the graph",
	})

	feedTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feednode",
		Subsystem: "feed",
		Name:      "state_transitions_total",
		Help:      "Feed scheduler transitions by reason",
	}, []string{"reason"})

	feedFeeding = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "feednode",
		Subsystem: "feed",
		Name:      "feeding",
		Help:      "1 while the producer task is registered",
	})

	feedPTS = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "feednode",
		Subsystem: "feed",
		Name:      "pts_seconds",
		Help:      "PTS of the last produced buffer",
	})

	feedCache   FeedMetrics
	feedCacheMu sync.RWMutex
)

// FeedMetrics holds the current feed values.
type FeedMetrics struct {
	RunID         string        `json:"run_id"`
	Buffers       uint64        `json:"buffers"`
	Bytes         uint64        `json:"bytes"`
	FormatChanges uint64        `json:"format_changes"`
	PushFailures  uint64        `json:"push_failures"`
	Feeding       bool          `json:"feeding"`
	LastSeq       uint64        `json:"last_seq"`
	LastPTS       time.Duration `json:"last_pts"`
	Caps          string        `json:"caps"`
}

// StartRun resets the cache for a new run. Prometheus counters keep
// accumulating across runs.
func StartRun(runID, caps string) {
	feedCacheMu.Lock()
	feedCache = FeedMetrics{RunID: runID, Caps: caps}
	feedCacheMu.Unlock()
	feedFeeding.Set(0)
}

// RecordBuffer counts one produced buffer.
func RecordBuffer(seq uint64, size int, pts time.Duration) {
	feedBuffers.Inc()
	feedBytes.Add(float64(size))
	feedPTS.Set(pts.Seconds())

	feedCacheMu.Lock()
	feedCache.Buffers++
	feedCache.Bytes += uint64(size)
	feedCache.LastSeq = seq
	feedCache.LastPTS = pts
	feedCacheMu.Unlock()
}

// RecordFormatChange counts an applied format change.
func RecordFormatChange(caps string) {
	feedFormatChanges.Inc()

	feedCacheMu.Lock()
	feedCache.FormatChanges++
	feedCache.Caps = caps
	feedCacheMu.Unlock()
}

// RecordPushFailure counts a rejected push.
func RecordPushFailure() {
	feedPushFailures.Inc()

	feedCacheMu.Lock()
	feedCache.PushFailures++
	feedCacheMu.Unlock()
}

// SetFeedState records a scheduler transition.
func SetFeedState(feeding bool, reason string) {
	feedTransitions.WithLabelValues(reason).Inc()
	if feeding {
		feedFeeding.Set(1)
	} else {
		feedFeeding.Set(0)
	}

	feedCacheMu.Lock()
	feedCache.Feeding = feeding
	feedCacheMu.Unlock()
}

// GetFeedMetrics returns a copy of the current feed values.
func GetFeedMetrics() FeedMetrics {
	feedCacheMu.RLock()
	defer feedCacheMu.RUnlock()
	return feedCache
}
