// Package sinks implements the branch consumers fed by the fan-out
// distributor: live playback, level visualization, encoding through an
// ffmpeg subprocess, WAV recording and an application sink.
package sinks

import (
	"fmt"
	"time"

	"github.com/smazurov/feednode/internal/fanout"
	"github.com/smazurov/feednode/internal/media"
)

// Kind names a sink implementation.
type Kind string

// Sink kinds.
const (
	KindPlayback Kind = "playback"
	KindVisual   Kind = "visual"
	KindEncode   Kind = "encode"
	KindWAV      Kind = "wav"
	KindAppSink  Kind = "appsink"
)

// ParseKind validates a sink kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindPlayback, KindVisual, KindEncode, KindWAV, KindAppSink:
		return k, nil
	}
	return "", fmt.Errorf("unknown sink kind %q", s)
}

// Config configures one sink. Fields a kind does not use are ignored.
type Config struct {
	Kind Kind

	// Output is the file path for encode and wav sinks.
	Output string
	// Binary is the ffmpeg binary for encode and the ffplay binary for
	// playback. Playback without a binary only paces buffers.
	Binary string

	Codec     string
	Bitrate   string
	GOP       int
	Container string
	Options   []string

	// Sync paces playback against the wall clock.
	Sync bool
	// MaxLateness drops playback buffers later than this. Zero disables.
	MaxLateness time.Duration

	// Interval is the stream time covered by one visual level report.
	Interval time.Duration
}

// Hooks receive sink output. They are called from branch goroutines.
type Hooks struct {
	OnLevel  func(branch string, level Level)
	OnBuffer func(branch string, buf *media.Buffer)
}

// New creates the consumer for branch id.
func New(id string, cfg Config, hooks Hooks) (fanout.Consumer, error) {
	switch cfg.Kind {
	case KindPlayback:
		return NewPlayback(id, cfg), nil
	case KindVisual:
		var fn func(Level)
		if hooks.OnLevel != nil {
			fn = func(l Level) { hooks.OnLevel(id, l) }
		}
		return NewVisual(id, cfg.Interval, fn), nil
	case KindEncode:
		return NewEncode(id, cfg)
	case KindWAV:
		return NewWAV(id, cfg.Output)
	case KindAppSink:
		var fn func(*media.Buffer)
		if hooks.OnBuffer != nil {
			fn = func(b *media.Buffer) { hooks.OnBuffer(id, b) }
		}
		return NewAppSink(fn), nil
	}
	return nil, fmt.Errorf("unknown sink kind %q", cfg.Kind)
}
