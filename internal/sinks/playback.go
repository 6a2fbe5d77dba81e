package sinks

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/smazurov/feednode/internal/ffmpeg"
	"github.com/smazurov/feednode/internal/logging"
	"github.com/smazurov/feednode/internal/media"
)

// Playback renders buffers in real time. With Sync set every buffer is held
// until its PTS on the wall clock, starting from the first buffer. Buffers
// later than MaxLateness are dropped. When a binary is configured the
// buffers are piped into it (ffplay); otherwise playback only paces.
type Playback struct {
	sync        bool
	maxLateness time.Duration
	logger      *slog.Logger
	pipe        *pipe
	now         func() time.Time

	base     time.Time
	started  bool
	rendered atomic.Uint64
	late     atomic.Uint64
}

// NewPlayback creates a playback sink.
func NewPlayback(id string, cfg Config) *Playback {
	p := &Playback{
		sync:        cfg.Sync,
		maxLateness: cfg.MaxLateness,
		logger:      logging.GetLogger("sinks").With("branch", id, "sink", KindPlayback),
		now:         time.Now,
	}
	if cfg.Binary != "" {
		binary := cfg.Binary
		p.pipe = newPipe(id, func(f *media.Format, _ int) (string, error) {
			return ffmpeg.PlaybackCommand(binary, f)
		}, p.logger)
	}
	return p
}

// Consume implements fanout.Consumer.
func (p *Playback) Consume(ctx context.Context, buf *media.Buffer) error {
	if p.sync {
		if !p.started {
			p.base = p.now().Add(-buf.PTS)
			p.started = true
		}
		due := p.base.Add(buf.PTS)
		if wait := due.Sub(p.now()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if p.maxLateness > 0 && -wait > p.maxLateness {
			if p.late.Add(1) == 1 {
				p.logger.Warn("Dropping late buffers", "lateness", -wait, "pts", buf.PTS)
			}
			return nil
		}
	}

	if p.pipe != nil {
		if err := p.pipe.write(ctx, buf); err != nil {
			return err
		}
	}
	p.rendered.Add(1)
	return nil
}

// Close implements fanout.Consumer.
func (p *Playback) Close() error {
	p.logger.Debug("Playback finished", "rendered", p.rendered.Load(), "late", p.late.Load())
	if p.pipe != nil {
		return p.pipe.finish(context.Background())
	}
	return nil
}

// Rendered returns the number of buffers rendered.
func (p *Playback) Rendered() uint64 { return p.rendered.Load() }

// Late returns the number of buffers dropped for lateness.
func (p *Playback) Late() uint64 { return p.late.Load() }
