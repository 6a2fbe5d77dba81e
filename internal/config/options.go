package config

import "github.com/smazurov/feednode/internal/logging"

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config  string `help:"Path to configuration file" short:"c" default:"feednode.toml"`
	EnvFile string `help:"Dotenv file with FEEDNODE_* overrides" default:".env"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Auth settings
	AuthUsername string `help:"Basic auth username (empty disables auth)" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Feed settings
	FeedMode       string `help:"Media kind to synthesize (audio, video)" default:"video" toml:"feed.mode" env:"FEED_MODE"`
	FeedMaxBuffers int    `help:"End the stream after N buffers (0 = unbounded)" default:"0" toml:"feed.max_buffers" env:"FEED_MAX_BUFFERS"`
	FeedMaxBytes   int    `help:"Source queue limit in bytes before enough-data" default:"200000" toml:"feed.max_bytes" env:"FEED_MAX_BYTES"`
	FeedSync       bool   `help:"Release buffers at their PTS on the wall clock" default:"true" toml:"feed.sync" env:"FEED_SYNC"`

	// Audio settings
	AudioRate       int `help:"Audio sample rate" default:"44100" toml:"audio.rate" env:"AUDIO_RATE"`
	AudioChannels   int `help:"Audio channel count" default:"1" toml:"audio.channels" env:"AUDIO_CHANNELS"`
	AudioChunkBytes int `help:"Audio bytes per buffer" default:"1024" toml:"audio.chunk_bytes" env:"AUDIO_CHUNK_BYTES"`

	// Video settings
	VideoFormat    string `help:"Pixel format (RGB, BGRx, GRAY8, I420, YV12, NV12, Y444)" default:"I420" toml:"video.format" env:"VIDEO_FORMAT"`
	VideoWidth     int    `help:"Frame width" default:"1024" toml:"video.width" env:"VIDEO_WIDTH"`
	VideoHeight    int    `help:"Frame height" default:"768" toml:"video.height" env:"VIDEO_HEIGHT"`
	VideoFramerate string `help:"Frame rate as num/den" default:"30/1" toml:"video.framerate" env:"VIDEO_FRAMERATE"`
	VideoFills     string `help:"Comma separated fill value per plane" default:"" toml:"video.fills" env:"VIDEO_FILLS"`

	// Schedule settings
	ScheduleFile  string `help:"Format schedule file" default:"schedule.toml" toml:"schedule.file" env:"SCHEDULE_FILE"`
	ScheduleWatch bool   `help:"Reload the schedule file on change" default:"true" toml:"schedule.watch" env:"SCHEDULE_WATCH"`

	// Branch settings
	Branches      string `help:"Comma separated branches as kind or id=kind" default:"playback,visual,appsink" toml:"branches.enabled" env:"BRANCHES"`
	QueueCapacity int    `help:"Buffers held per branch queue" default:"16" toml:"branches.capacity" env:"QUEUE_CAPACITY"`
	QueueLeak     string `help:"Full queue policy (none, upstream, downstream)" default:"none" toml:"branches.leak" env:"QUEUE_LEAK"`
	QueueStall    string `help:"Longest wait for room in a full non-leaky queue" default:"1s" toml:"branches.stall" env:"QUEUE_STALL"`

	PlaybackBinary      string `help:"Player fed by the playback branch (empty = pace only)" default:"" toml:"playback.binary" env:"PLAYBACK_BINARY"`
	PlaybackSync        bool   `help:"Hold playback buffers until their PTS" default:"true" toml:"playback.sync" env:"PLAYBACK_SYNC"`
	PlaybackLeak        string `help:"Queue policy for playback branches" default:"downstream" toml:"playback.leak" env:"PLAYBACK_LEAK"`
	PlaybackMaxLateness string `help:"Drop playback buffers later than this" default:"20ms" toml:"playback.max_lateness" env:"PLAYBACK_MAX_LATENESS"`

	VisualInterval string `help:"Stream time per level report" default:"100ms" toml:"visual.interval" env:"VISUAL_INTERVAL"`

	EncodeBinary  string `help:"ffmpeg binary" default:"ffmpeg" toml:"encode.binary" env:"ENCODE_BINARY"`
	EncodeOutput  string `help:"Encoded output file" default:"feednode.mkv" toml:"encode.output" env:"ENCODE_OUTPUT"`
	EncodeCodec   string `help:"Encoder (empty = libvpx or libopus)" default:"" toml:"encode.codec" env:"ENCODE_CODEC"`
	EncodeBitrate string `help:"Encoder bitrate" default:"" toml:"encode.bitrate" env:"ENCODE_BITRATE"`
	EncodeOptions string `help:"Comma separated ffmpeg option keys" default:"" toml:"encode.options" env:"ENCODE_OPTIONS"`

	WavOutput string `help:"WAV output file" default:"feednode.wav" toml:"wav.output" env:"WAV_OUTPUT"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingPipeline string `help:"Run lifecycle logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingFeed     string `help:"Feed scheduler logging level" default:"info" toml:"logging.feed" env:"LOGGING_FEED"`
	LoggingFanout   string `help:"Fan-out logging level" default:"info" toml:"logging.fanout" env:"LOGGING_FANOUT"`
	LoggingGraph    string `help:"Graph logging level" default:"info" toml:"logging.graph" env:"LOGGING_GRAPH"`
	LoggingSinks    string `help:"Sinks logging level" default:"info" toml:"logging.sinks" env:"LOGGING_SINKS"`
	LoggingFFmpeg   string `help:"ffmpeg output logging level" default:"warn" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

// LoggingConfig returns the logging setup described by the options.
func (o *Options) LoggingConfig() logging.Config {
	return logging.Config{
		Level:   o.LoggingLevel,
		Format:  o.LoggingFormat,
		Modules: o.LoggingModules(),
	}
}

// LoggingModules returns the per-module levels for logging.Initialize.
func (o *Options) LoggingModules() map[string]string {
	return map[string]string{
		"pipeline": o.LoggingPipeline,
		"feed":     o.LoggingFeed,
		"fanout":   o.LoggingFanout,
		"graph":    o.LoggingGraph,
		"sinks":    o.LoggingSinks,
		"ffmpeg":   o.LoggingFFmpeg,
		"api":      o.LoggingAPI,
	}
}
