package logging

import (
	"sync"
	"time"
)

// LogEntry is one log line kept for the API.
type LogEntry struct {
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RingBuffer keeps the most recent entries. Every entry written gets the
// next sequence number, starting at 1, so readers can resume with Since.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	last    uint64
}

// NewRingBuffer creates a buffer holding up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{entries: make([]LogEntry, max(size, 1))}
}

// Write stores entry, evicting the oldest one when full, and returns it
// with its sequence number set.
func (rb *RingBuffer) Write(entry LogEntry) LogEntry {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.last++
	entry.Seq = rb.last
	rb.entries[rb.slot(rb.last)] = entry
	return entry
}

// ReadAll returns every held entry, oldest first.
func (rb *RingBuffer) ReadAll() []LogEntry {
	return rb.Since(0)
}

// Since returns the held entries with a sequence number above seq, oldest
// first. Entries already evicted are skipped silently.
func (rb *RingBuffer) Since(seq uint64) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	first := rb.last - uint64(rb.count()) + 1
	if seq+1 > first {
		first = seq + 1
	}
	if first > rb.last {
		return nil
	}

	out := make([]LogEntry, 0, rb.last-first+1)
	for s := first; s <= rb.last; s++ {
		out = append(out, rb.entries[rb.slot(s)])
	}
	return out
}

// Count returns the number of held entries.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count()
}

func (rb *RingBuffer) count() int {
	return int(min(rb.last, uint64(len(rb.entries))))
}

func (rb *RingBuffer) slot(seq uint64) int {
	return int((seq - 1) % uint64(len(rb.entries)))
}
