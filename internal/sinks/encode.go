package sinks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/smazurov/feednode/internal/ffmpeg"
	"github.com/smazurov/feednode/internal/logging"
	"github.com/smazurov/feednode/internal/media"
)

// Encode pipes raw buffers into ffmpeg, which encodes and muxes them into
// a file. Each format change starts a new numbered segment file.
type Encode struct {
	id     string
	params ffmpeg.Params
	logger *slog.Logger
	pipe   *pipe

	mu    sync.Mutex
	files []string
}

// NewEncode creates an encode sink writing to cfg.Output.
func NewEncode(id string, cfg Config) (*Encode, error) {
	if cfg.Output == "" {
		return nil, errors.New("encode sink needs an output path")
	}
	opts := ffmpeg.GetDefaultOptions()
	if len(cfg.Options) > 0 {
		var err error
		if opts, err = ffmpeg.ParseOptions(cfg.Options); err != nil {
			return nil, err
		}
	}

	e := &Encode{
		id: id,
		params: ffmpeg.Params{
			Binary:    cfg.Binary,
			Codec:     cfg.Codec,
			Bitrate:   cfg.Bitrate,
			GOP:       cfg.GOP,
			Container: cfg.Container,
			Output:    cfg.Output,
			Options:   opts,
		},
		logger: logging.GetLogger("sinks").With("branch", id, "sink", KindEncode),
	}
	e.pipe = newPipe(id, e.command, e.logger)
	return e, nil
}

// SegmentPath returns the output path of segment n. Segment 0 is the
// configured path; later segments get a -NNN suffix before the extension.
func SegmentPath(output string, n int) string {
	if n == 0 {
		return output
	}
	ext := filepath.Ext(output)
	return fmt.Sprintf("%s-%03d%s", strings.TrimSuffix(output, ext), n, ext)
}

func (e *Encode) command(f *media.Format, segment int) (string, error) {
	params := e.params
	params.Format = f
	params.Output = SegmentPath(e.params.Output, segment)

	cmd, err := ffmpeg.BuildCommand(&params)
	if err != nil {
		return "", err
	}
	e.logger.Info("Starting encoder", "segment", segment, "output", params.Output, "caps", f.Caps())
	e.logger.Debug("Encoder command", "command", cmd)

	e.mu.Lock()
	e.files = append(e.files, params.Output)
	e.mu.Unlock()
	return cmd, nil
}

// Consume implements fanout.Consumer.
func (e *Encode) Consume(ctx context.Context, buf *media.Buffer) error {
	return e.pipe.write(ctx, buf)
}

// Close finishes the last segment and waits for ffmpeg to exit.
func (e *Encode) Close() error {
	err := e.pipe.finish(context.Background())
	e.logger.Info("Encoder finished", "files", e.Files(), "bytes", e.pipe.written)
	return err
}

// Files returns the segment paths started so far.
func (e *Encode) Files() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.files...)
}
