package sinks

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"

	"github.com/smazurov/feednode/internal/logging"
	"github.com/smazurov/feednode/internal/media"
)

// ErrNotAudio is returned when a video buffer reaches the WAV sink.
var ErrNotAudio = errors.New("wav sink only records audio")

// WAV records the audio stream as 16-bit PCM WAV through beep. A format
// change closes the file and continues in a new numbered segment.
type WAV struct {
	output string
	logger *slog.Logger

	seg     *wavSegment
	segment int

	mu    sync.Mutex
	files []string
}

// wavSegment streams sample chunks into a wav.Encode call running on its
// own goroutine.
type wavSegment struct {
	format  *media.Format
	file    *os.File
	chunks  chan [][2]float64
	pending [][2]float64
	done    chan error
}

// NewWAV creates a WAV sink writing to output.
func NewWAV(id, output string) (*WAV, error) {
	if output == "" {
		return nil, errors.New("wav sink needs an output path")
	}
	return &WAV{
		output:  output,
		logger:  logging.GetLogger("sinks").With("branch", id, "sink", KindWAV),
		segment: -1,
	}, nil
}

// Consume implements fanout.Consumer.
func (w *WAV) Consume(ctx context.Context, buf *media.Buffer) error {
	if !buf.Format.IsAudio() {
		return ErrNotAudio
	}
	if w.seg == nil || !w.seg.format.Equal(buf.Format) {
		if err := w.finish(); err != nil {
			return err
		}
		if err := w.open(buf.Format); err != nil {
			return err
		}
	}

	chunk := toFloatFrames(buf.Data, buf.Format.Channels())
	select {
	case w.seg.chunks <- chunk:
		return nil
	case err := <-w.seg.done:
		// Encoder stopped early; put the result back for finish.
		w.seg.done <- err
		if err == nil {
			err = errors.New("wav encoder stopped")
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close finishes the current file.
func (w *WAV) Close() error {
	return w.finish()
}

// Files returns the written file paths.
func (w *WAV) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.files...)
}

func (w *WAV) open(f *media.Format) error {
	if f.Channels() > 2 {
		return fmt.Errorf("wav sink supports at most 2 channels, got %d", f.Channels())
	}

	w.segment++
	path := SegmentPath(w.output, w.segment)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}

	seg := &wavSegment{
		format: f,
		file:   file,
		chunks: make(chan [][2]float64, 4),
		done:   make(chan error, 1),
	}
	format := beep.Format{
		SampleRate:  beep.SampleRate(f.Rate()),
		NumChannels: f.Channels(),
		Precision:   media.BytesPerSample,
	}
	go func() {
		seg.done <- wav.Encode(file, beep.StreamerFunc(seg.stream), format)
	}()

	w.seg = seg
	w.mu.Lock()
	w.files = append(w.files, path)
	w.mu.Unlock()
	w.logger.Info("Recording", "path", path, "caps", f.Caps())
	return nil
}

func (w *WAV) finish() error {
	if w.seg == nil {
		return nil
	}
	seg := w.seg
	w.seg = nil

	close(seg.chunks)
	err := <-seg.done
	if cerr := seg.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write wav segment %d: %w", w.segment, err)
	}
	return nil
}

// stream fills samples from queued chunks and ends once the chunk channel
// is closed and drained.
func (s *wavSegment) stream(samples [][2]float64) (int, bool) {
	n := 0
	for n < len(samples) {
		if len(s.pending) == 0 {
			chunk, ok := <-s.chunks
			if !ok {
				return n, n > 0
			}
			s.pending = chunk
		}
		c := copy(samples[n:], s.pending)
		n += c
		s.pending = s.pending[c:]
	}
	return n, true
}

// toFloatFrames converts interleaved S16LE into beep sample frames. Mono
// duplicates the sample into both slots.
func toFloatFrames(data []byte, channels int) [][2]float64 {
	frame := channels * media.BytesPerSample
	out := make([][2]float64, len(data)/frame)
	for i := range out {
		base := i * frame
		left := float64(int16(binary.LittleEndian.Uint16(data[base:]))) / 32767
		right := left
		if channels == 2 {
			right = float64(int16(binary.LittleEndian.Uint16(data[base+2:]))) / 32767
		}
		out[i] = [2]float64{left, right}
	}
	return out
}
