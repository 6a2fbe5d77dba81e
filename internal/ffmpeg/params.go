package ffmpeg

import "github.com/smazurov/feednode/internal/media"

// Params represents all parameters needed to generate an encode command for
// raw media piped on stdin.
type Params struct {
	// Binary is the ffmpeg executable, "ffmpeg" when empty.
	Binary string

	// Input description; the raw stream layout is derived from it.
	Format *media.Format

	// Encoder configuration. Empty values pick the default for the kind:
	// libvpx into matroska for video, libopus into ogg for audio.
	Codec     string
	Bitrate   string // 1M, 96k
	GOP       int    // keyframe interval (0 = not set)
	Container string

	// Output file path.
	Output string

	// Behavior Options
	Options []OptionType
}

func (p *Params) binary() string {
	if p.Binary == "" {
		return "ffmpeg"
	}
	return p.Binary
}

func (p *Params) codec() string {
	switch {
	case p.Codec != "":
		return p.Codec
	case p.Format != nil && p.Format.IsAudio():
		return "libopus"
	default:
		return "libvpx"
	}
}

func (p *Params) container() string {
	switch {
	case p.Container != "":
		return p.Container
	case p.Format != nil && p.Format.IsAudio():
		return "ogg"
	default:
		return "matroska"
	}
}

// Extension returns the file extension for the output container.
func (p *Params) Extension() string {
	switch p.container() {
	case "ogg":
		return ".ogg"
	case "matroska":
		return ".mkv"
	case "webm":
		return ".webm"
	case "wav":
		return ".wav"
	default:
		return "." + p.container()
	}
}
