package events

import (
	"github.com/smazurov/feednode/internal/fanout"
	"github.com/smazurov/feednode/internal/sinks"
)

// Event type constants for kelindar/event.
const (
	TypeFeedStateChanged uint32 = iota + 1
	TypeFormatChanged
	TypeBufferProduced
	TypeBranchStats
	TypeLevel
	TypeScheduleChanged
	TypeRunFinished
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// FeedStateChangedEvent is published on every scheduler transition.
type FeedStateChangedEvent struct {
	RunID     string `json:"run_id" doc:"Run identifier"`
	State     string `json:"state" example:"feeding" doc:"New feed state"`
	Previous  string `json:"previous" example:"idle" doc:"Previous feed state"`
	Reason    string `json:"reason" example:"need-data" doc:"Signal that caused the transition"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FeedStateChangedEvent.
func (e FeedStateChangedEvent) Type() uint32 { return TypeFeedStateChanged }

// FormatChangedEvent is published when a new descriptor takes effect.
type FormatChangedEvent struct {
	RunID     string `json:"run_id" doc:"Run identifier"`
	Seq       uint64 `json:"seq" example:"100" doc:"First buffer with the new format"`
	From      string `json:"from" doc:"Previous caps"`
	To        string `json:"to" doc:"New caps"`
	PTSNanos  int64  `json:"pts_ns" doc:"PTS of the first buffer with the new format"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FormatChangedEvent.
func (e FormatChangedEvent) Type() uint32 { return TypeFormatChanged }

// BufferProducedEvent is published for a sample of produced buffers.
type BufferProducedEvent struct {
	RunID         string `json:"run_id" doc:"Run identifier"`
	Seq           uint64 `json:"seq" doc:"Buffer sequence number"`
	PTSNanos      int64  `json:"pts_ns" doc:"Presentation timestamp"`
	DurationNanos int64  `json:"duration_ns" doc:"Buffer duration"`
	Size          int    `json:"size" doc:"Payload bytes"`
	Caps          string `json:"caps" doc:"Buffer caps"`
}

// Type returns the event type identifier for BufferProducedEvent.
func (e BufferProducedEvent) Type() uint32 { return TypeBufferProduced }

// BranchStatsEvent carries periodic per-branch counters.
type BranchStatsEvent struct {
	RunID     string               `json:"run_id" doc:"Run identifier"`
	Branches  []fanout.BranchStats `json:"branches" doc:"Per-branch counters"`
	Timestamp string               `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for BranchStatsEvent.
func (e BranchStatsEvent) Type() uint32 { return TypeBranchStats }

// LevelEvent carries one level report from a visual branch.
type LevelEvent struct {
	RunID  string      `json:"run_id" doc:"Run identifier"`
	Branch string      `json:"branch" example:"visual" doc:"Reporting branch"`
	Level  sinks.Level `json:"level" doc:"Measured levels"`
}

// Type returns the event type identifier for LevelEvent.
func (e LevelEvent) Type() uint32 { return TypeLevel }

// ScheduleChangedEvent is published when a format change is scheduled.
type ScheduleChangedEvent struct {
	Trigger   uint64 `json:"trigger" example:"100" doc:"Sequence number the change applies at"`
	Caps      string `json:"caps" doc:"Scheduled caps"`
	Source    string `json:"source" example:"api" doc:"Where the change came from: api, file"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ScheduleChangedEvent.
func (e ScheduleChangedEvent) Type() uint32 { return TypeScheduleChanged }

// RunFinishedEvent is published once when a run ends.
type RunFinishedEvent struct {
	RunID     string `json:"run_id" doc:"Run identifier"`
	Reason    string `json:"reason" example:"eos" doc:"eos, error, fatal or cancelled"`
	Error     string `json:"error,omitempty" doc:"Diagnostic for error endings"`
	Buffers   uint64 `json:"buffers" doc:"Buffers produced"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for RunFinishedEvent.
func (e RunFinishedEvent) Type() uint32 { return TypeRunFinished }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"feed" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
