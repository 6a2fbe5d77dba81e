package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smazurov/feednode/internal/fanout"
)

var (
	branchDelivered = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "feednode",
		Subsystem: "branch",
		Name:      "delivered_total",
		Help:      "Buffers consumed by the branch",
	}, []string{"branch"})

	branchDropped = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "feednode",
		Subsystem: "branch",
		Name:      "dropped_total",
		Help:      "Buffers dropped at a full non-leaky queue",
	}, []string{"branch"})

	branchLeaked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "feednode",
		Subsystem: "branch",
		Name:      "leaked_total",
		Help:      "Buffers discarded by the queue leak policy",
	}, []string{"branch"})

	branchDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "feednode",
		Subsystem: "branch",
		Name:      "queue_depth",
		Help:      "Buffers waiting in the branch queue",
	}, []string{"branch"})

	branchCache   = make(map[string]fanout.BranchStats)
	branchCacheMu sync.RWMutex
)

// SetBranchStats publishes a distributor snapshot.
func SetBranchStats(stats []fanout.BranchStats) {
	branchCacheMu.Lock()
	defer branchCacheMu.Unlock()
	for _, s := range stats {
		branchDelivered.WithLabelValues(s.ID).Set(float64(s.Delivered))
		branchDropped.WithLabelValues(s.ID).Set(float64(s.Dropped))
		branchLeaked.WithLabelValues(s.ID).Set(float64(s.Leaked))
		branchDepth.WithLabelValues(s.ID).Set(float64(s.Depth))
		branchCache[s.ID] = s
	}
}

// DeleteBranchMetrics removes all metrics for a branch.
func DeleteBranchMetrics(id string) {
	branchDelivered.DeleteLabelValues(id)
	branchDropped.DeleteLabelValues(id)
	branchLeaked.DeleteLabelValues(id)
	branchDepth.DeleteLabelValues(id)

	branchCacheMu.Lock()
	delete(branchCache, id)
	branchCacheMu.Unlock()
}

// GetBranchStats returns the cached branch stats sorted by id.
func GetBranchStats() []fanout.BranchStats {
	branchCacheMu.RLock()
	result := make([]fanout.BranchStats, 0, len(branchCache))
	for _, s := range branchCache {
		result = append(result, s)
	}
	branchCacheMu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
