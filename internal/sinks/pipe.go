package sinks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/smazurov/feednode/internal/ffmpeg"
	"github.com/smazurov/feednode/internal/logging"
	"github.com/smazurov/feednode/internal/media"
	"github.com/smazurov/feednode/internal/process"
)

// commandFunc returns the command for a segment carrying format f.
type commandFunc func(f *media.Format, segment int) (string, error)

// pipe feeds packed buffers into a subprocess stdin. A format change ends
// the running process and starts a new segment.
type pipe struct {
	id           string
	build        commandFunc
	logger       *slog.Logger
	closeTimeout time.Duration

	proc    *process.Process
	stdin   io.WriteCloser
	format  *media.Format
	segment int
	written uint64
}

func newPipe(id string, build commandFunc, logger *slog.Logger) *pipe {
	return &pipe{
		id:           id,
		build:        build,
		logger:       logger,
		closeTimeout: 30 * time.Second,
		segment:      -1,
	}
}

func (p *pipe) write(ctx context.Context, buf *media.Buffer) error {
	if p.proc == nil || !p.format.Equal(buf.Format) {
		if p.proc != nil {
			p.logger.Info("Format changed, starting new segment", "from", p.format, "to", buf.Format)
		}
		if err := p.finish(ctx); err != nil {
			return err
		}
		if err := p.start(buf.Format); err != nil {
			return err
		}
	}

	data, err := ffmpeg.PackFrame(buf.Data, buf.Format)
	if err != nil {
		return err
	}
	if _, err := p.stdin.Write(data); err != nil {
		// The process exited early; its exit code carries the real cause.
		code := p.proc.Wait(ctx)
		p.proc = nil
		return fmt.Errorf("write to %s segment %d (exit code %d): %w", p.id, p.segment, code, err)
	}
	p.written += uint64(len(data))
	return nil
}

func (p *pipe) start(f *media.Format) error {
	p.segment++
	command, err := p.build(f, p.segment)
	if err != nil {
		return err
	}

	id := fmt.Sprintf("%s-%d", p.id, p.segment)
	proc := process.NewProcess(id, command, p.logger)
	proc.SetLogParser(logging.GetLogger("ffmpeg").With("branch", p.id), ffmpeg.ParseLogLevel)
	stdin, err := proc.Start()
	if err != nil {
		return fmt.Errorf("start %s: %w", id, err)
	}

	p.proc = proc
	p.stdin = stdin
	p.format = f
	return nil
}

// finish closes stdin and waits for the process to exit.
func (p *pipe) finish(ctx context.Context) error {
	if p.proc == nil {
		return nil
	}
	proc := p.proc
	p.proc = nil

	if err := p.stdin.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		p.logger.Debug("Closing stdin failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.closeTimeout)
	defer cancel()
	if code := proc.Wait(ctx); code != 0 {
		return fmt.Errorf("%s segment %d exited with code %d", p.id, p.segment, code)
	}
	return nil
}
