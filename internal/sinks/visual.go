package sinks

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/smazurov/feednode/internal/logging"
	"github.com/smazurov/feednode/internal/media"
)

// MinDB is the floor reported for silence.
const MinDB = -120.0

// DefaultInterval is the stream time covered by one level report.
const DefaultInterval = 100 * time.Millisecond

// Level summarizes the buffers of one interval. Audio carries per-channel
// peak and RMS in dBFS; video carries the mean value of the first
// component of plane 0 (luma for YUV formats).
type Level struct {
	Caps     string        `json:"caps"`
	PTS      time.Duration `json:"pts"`
	Duration time.Duration `json:"duration"`
	Buffers  int           `json:"buffers"`
	Peak     []float64     `json:"peak_db,omitempty"`
	RMS      []float64     `json:"rms_db,omitempty"`
	Luma     float64       `json:"luma,omitempty"`
}

// Visual computes levels over the branch stream and reports them once per
// interval of stream time.
type Visual struct {
	interval time.Duration
	report   func(Level)
	logger   *slog.Logger

	format  *media.Format
	start   time.Duration
	end     time.Duration
	buffers int
	peak    []int32
	sumSq   []float64
	samples uint64
	lumaSum float64
	pixels  uint64

	mu   sync.Mutex
	last *Level
}

// NewVisual creates a visual sink. report may be nil; the last level is
// always available through Last.
func NewVisual(id string, interval time.Duration, report func(Level)) *Visual {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Visual{
		interval: interval,
		report:   report,
		logger:   logging.GetLogger("sinks").With("branch", id, "sink", KindVisual),
	}
}

// Consume implements fanout.Consumer.
func (v *Visual) Consume(_ context.Context, buf *media.Buffer) error {
	if v.format != nil && !v.format.Equal(buf.Format) {
		v.flush()
	}
	if v.buffers == 0 {
		v.reset(buf)
	}

	if buf.Format.IsAudio() {
		v.measureAudio(buf)
	} else {
		v.measureVideo(buf)
	}
	v.buffers++
	v.end = buf.End()

	if v.end-v.start >= v.interval {
		v.flush()
	}
	return nil
}

// Close reports the partial interval.
func (v *Visual) Close() error {
	v.flush()
	return nil
}

// Last returns the most recent level, or nil.
func (v *Visual) Last() *Level {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last
}

func (v *Visual) reset(buf *media.Buffer) {
	v.format = buf.Format
	v.start = buf.PTS
	v.buffers = 0
	v.samples = 0
	v.lumaSum = 0
	v.pixels = 0
	ch := 0
	if buf.Format.IsAudio() {
		ch = buf.Format.Channels()
	}
	v.peak = make([]int32, ch)
	v.sumSq = make([]float64, ch)
}

func (v *Visual) measureAudio(buf *media.Buffer) {
	channels := buf.Format.Channels()
	frame := buf.Format.SampleFrameSize()
	for i := 0; i+frame <= len(buf.Data); i += frame {
		for c := 0; c < channels; c++ {
			s := int32(int16(binary.LittleEndian.Uint16(buf.Data[i+c*media.BytesPerSample:])))
			if s < 0 {
				s = -s
			}
			if s > v.peak[c] {
				v.peak[c] = s
			}
			v.sumSq[c] += float64(s) * float64(s)
		}
		v.samples++
	}
}

func (v *Visual) measureVideo(buf *media.Buffer) {
	pl := buf.Format.Plane(0)
	for h := 0; h < pl.Height; h++ {
		row := pl.Offset + h*pl.Stride
		for w := 0; w < pl.Width; w++ {
			v.lumaSum += float64(buf.Data[row+w*pl.PixelStride])
		}
	}
	v.pixels += uint64(pl.Width * pl.Height)
}

func (v *Visual) flush() {
	if v.buffers == 0 {
		return
	}
	level := Level{
		Caps:     v.format.Caps(),
		PTS:      v.start,
		Duration: v.end - v.start,
		Buffers:  v.buffers,
	}
	if v.format.IsAudio() {
		level.Peak = make([]float64, len(v.peak))
		level.RMS = make([]float64, len(v.peak))
		for c := range v.peak {
			level.Peak[c] = toDB(float64(v.peak[c]) / 32768)
			if v.samples > 0 {
				level.RMS[c] = toDB(math.Sqrt(v.sumSq[c]/float64(v.samples)) / 32768)
			} else {
				level.RMS[c] = MinDB
			}
		}
	} else if v.pixels > 0 {
		level.Luma = v.lumaSum / float64(v.pixels)
	}
	v.buffers = 0

	v.mu.Lock()
	v.last = &level
	v.mu.Unlock()

	if v.report != nil {
		v.report(level)
	}
	v.logger.Debug("Level", "pts", level.PTS, "buffers", level.Buffers, "peak", level.Peak, "luma", level.Luma)
}

func toDB(amplitude float64) float64 {
	if amplitude <= 0 {
		return MinDB
	}
	return math.Max(20*math.Log10(amplitude), MinDB)
}
