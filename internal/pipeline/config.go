package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smazurov/feednode/internal/config"
	"github.com/smazurov/feednode/internal/fanout"
	"github.com/smazurov/feednode/internal/media"
	"github.com/smazurov/feednode/internal/negotiate"
	"github.com/smazurov/feednode/internal/sinks"
	"github.com/smazurov/feednode/internal/synth"
)

// BranchConfig describes one branch of the fan-out.
type BranchConfig struct {
	ID       string
	Capacity int
	Leak     fanout.LeakPolicy
	Stall    time.Duration
	Sink     sinks.Config
}

// Config is everything a Run needs.
type Config struct {
	// Initial is the descriptor of the first buffer.
	Initial *media.Format
	// ChunkBytes is the audio payload size per buffer.
	ChunkBytes int
	// Fills holds one video fill value per plane. Nil uses synth.DefaultFills.
	Fills []byte
	// MaxBuffers ends the stream after N buffers. Zero is unbounded.
	MaxBuffers uint64
	// MaxBytes bounds the source queue before enough-data.
	MaxBytes uint64
	// Sync releases buffers from the source at their PTS.
	Sync bool

	Every   uint64
	Cycle   []*media.Format
	Changes []negotiate.Change

	Branches []BranchConfig

	// StatsInterval is the branch stats publishing period.
	StatsInterval time.Duration
	// BufferEventEvery publishes one BufferProduced event per N buffers.
	// Zero disables them.
	BufferEventEvery uint64

	// OnAppBuffer receives every buffer reaching an appsink branch.
	OnAppBuffer func(branch string, buf *media.Buffer)
}

func (c *Config) validate() error {
	if c.Initial == nil {
		return errors.New("initial format is required")
	}
	if c.Initial.IsAudio() && c.ChunkBytes <= 0 {
		return errors.New("audio chunk size must be positive")
	}
	if len(c.Branches) == 0 {
		return errors.New("at least one branch is required")
	}
	if c.Every == 0 {
		c.Every = negotiate.DefaultEvery
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = time.Second
	}
	if c.Initial.IsVideo() && c.Fills == nil {
		c.Fills = synth.DefaultFills(c.Initial.NPlanes())
	}
	return nil
}

// ConfigFromOptions builds a run configuration from CLI options and the
// loaded schedule.
func ConfigFromOptions(opts *config.Options, schedule config.ScheduleConfig) (Config, error) {
	initial, err := initialFormat(opts)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Initial:          initial,
		ChunkBytes:       opts.AudioChunkBytes,
		MaxBytes:         uint64(max(opts.FeedMaxBytes, 0)),
		MaxBuffers:       uint64(max(opts.FeedMaxBuffers, 0)),
		Sync:             opts.FeedSync,
		Every:            schedule.Every,
		StatsInterval:    time.Second,
		BufferEventEvery: 100,
	}

	if opts.VideoFills != "" {
		if cfg.Fills, err = parseFills(opts.VideoFills); err != nil {
			return Config{}, err
		}
	}

	if cfg.Cycle, err = schedule.CycleFormats(); err != nil {
		return Config{}, err
	}
	for _, ch := range schedule.Changes {
		f, err := ch.Format()
		if err != nil {
			return Config{}, err
		}
		cfg.Changes = append(cfg.Changes, negotiate.Change{Trigger: ch.Trigger, Format: f})
	}

	if cfg.Branches, err = parseBranches(opts); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func initialFormat(opts *config.Options) (*media.Format, error) {
	switch opts.FeedMode {
	case "audio":
		return media.NewAudioFormat(opts.AudioRate, opts.AudioChannels)
	case "video", "":
		pixel, err := media.ParsePixelFormat(opts.VideoFormat)
		if err != nil {
			return nil, err
		}
		num, den, err := parseFraction(opts.VideoFramerate)
		if err != nil {
			return nil, fmt.Errorf("invalid framerate: %w", err)
		}
		return media.NewVideoFormat(pixel, opts.VideoWidth, opts.VideoHeight, num, den)
	}
	return nil, fmt.Errorf("unknown feed mode %q", opts.FeedMode)
}

func parseFraction(s string) (int, int, error) {
	numStr, denStr, found := strings.Cut(s, "/")
	if !found {
		denStr = "1"
	}
	num, err := strconv.Atoi(strings.TrimSpace(numStr))
	if err != nil {
		return 0, 0, err
	}
	den, err := strconv.Atoi(strings.TrimSpace(denStr))
	if err != nil {
		return 0, 0, err
	}
	return num, den, nil
}

func parseFills(s string) ([]byte, error) {
	parts := strings.Split(s, ",")
	fills := make([]byte, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid fill value %q: %w", p, err)
		}
		fills = append(fills, byte(v))
	}
	return fills, nil
}

func parseDuration(name, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

// parseBranches reads entries of the form "kind" or "id=kind".
func parseBranches(opts *config.Options) ([]BranchConfig, error) {
	leak, err := fanout.ParseLeakPolicy(opts.QueueLeak)
	if err != nil {
		return nil, err
	}
	playbackLeak, err := fanout.ParseLeakPolicy(opts.PlaybackLeak)
	if err != nil {
		return nil, fmt.Errorf("playback: %w", err)
	}
	stall, err := parseDuration("queue stall", opts.QueueStall)
	if err != nil {
		return nil, err
	}
	lateness, err := parseDuration("playback max lateness", opts.PlaybackMaxLateness)
	if err != nil {
		return nil, err
	}
	interval, err := parseDuration("visual interval", opts.VisualInterval)
	if err != nil {
		return nil, err
	}

	var encodeOptions []string
	for _, o := range strings.Split(opts.EncodeOptions, ",") {
		if o = strings.TrimSpace(o); o != "" {
			encodeOptions = append(encodeOptions, o)
		}
	}

	var branches []BranchConfig
	for _, entry := range strings.Split(opts.Branches, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, kindName, found := strings.Cut(entry, "=")
		if !found {
			kindName = id
		}
		kind, err := sinks.ParseKind(strings.TrimSpace(kindName))
		if err != nil {
			return nil, err
		}

		b := BranchConfig{
			ID:       strings.TrimSpace(id),
			Capacity: opts.QueueCapacity,
			Leak:     leak,
			Stall:    stall,
			Sink:     sinks.Config{Kind: kind},
		}
		switch kind {
		case sinks.KindPlayback:
			b.Leak = playbackLeak
			b.Sink.Binary = opts.PlaybackBinary
			b.Sink.Sync = opts.PlaybackSync
			b.Sink.MaxLateness = lateness
		case sinks.KindVisual:
			b.Sink.Interval = interval
		case sinks.KindEncode:
			b.Sink.Binary = opts.EncodeBinary
			b.Sink.Output = opts.EncodeOutput
			b.Sink.Codec = opts.EncodeCodec
			b.Sink.Bitrate = opts.EncodeBitrate
			b.Sink.Options = encodeOptions
		case sinks.KindWAV:
			b.Sink.Output = opts.WavOutput
		}
		branches = append(branches, b)
	}
	if len(branches) == 0 {
		return nil, errors.New("no branches enabled")
	}
	return branches, nil
}
