package sinks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/feednode/internal/media"
)

// AppSinkStats is a snapshot of an AppSink.
type AppSinkStats struct {
	Buffers uint64        `json:"buffers"`
	Bytes   uint64        `json:"bytes"`
	LastSeq uint64        `json:"last_seq"`
	LastPTS time.Duration `json:"last_pts"`
	Formats []string      `json:"formats"`
	Closed  bool          `json:"closed"`
}

// AppSink hands every buffer to the application.
type AppSink struct {
	onBuffer func(*media.Buffer)

	buffers atomic.Uint64
	bytes   atomic.Uint64

	mu      sync.Mutex
	lastSeq uint64
	lastPTS time.Duration
	format  *media.Format
	formats []string
	closed  bool
}

// NewAppSink creates an application sink. onBuffer may be nil.
func NewAppSink(onBuffer func(*media.Buffer)) *AppSink {
	return &AppSink{onBuffer: onBuffer}
}

// Consume implements fanout.Consumer.
func (a *AppSink) Consume(_ context.Context, buf *media.Buffer) error {
	a.buffers.Add(1)
	a.bytes.Add(uint64(len(buf.Data)))

	a.mu.Lock()
	a.lastSeq = buf.Seq
	a.lastPTS = buf.PTS
	if a.format == nil || !a.format.Equal(buf.Format) {
		a.format = buf.Format
		a.formats = append(a.formats, buf.Format.Caps())
	}
	a.mu.Unlock()

	if a.onBuffer != nil {
		a.onBuffer(buf)
	}
	return nil
}

// Close implements fanout.Consumer.
func (a *AppSink) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}

// Stats returns a snapshot.
func (a *AppSink) Stats() AppSinkStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AppSinkStats{
		Buffers: a.buffers.Load(),
		Bytes:   a.bytes.Load(),
		LastSeq: a.lastSeq,
		LastPTS: a.lastPTS,
		Formats: append([]string(nil), a.formats...),
		Closed:  a.closed,
	}
}
