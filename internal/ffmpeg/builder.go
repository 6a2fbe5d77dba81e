package ffmpeg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smazurov/feednode/internal/media"
)

// ErrUnsupportedPixel is returned for pixel formats ffmpeg cannot read raw.
var ErrUnsupportedPixel = errors.New("unsupported raw pixel format")

// PixelFormat maps a media pixel format to the ffmpeg rawvideo pix_fmt plus
// an optional filter needed to reorder planes.
func PixelFormat(p media.PixelFormat) (pixFmt, filter string, err error) {
	switch p {
	case media.PixelRGB:
		return "rgb24", "", nil
	case media.PixelBGRx:
		return "bgr0", "", nil
	case media.PixelGRAY8:
		return "gray", "", nil
	case media.PixelI420:
		return "yuv420p", "", nil
	case media.PixelYV12:
		// ffmpeg has no YV12; read as yuv420p and swap chroma planes.
		return "yuv420p", "shuffleplanes=0:2:1", nil
	case media.PixelNV12:
		return "nv12", "", nil
	case media.PixelY444:
		return "yuv444p", "", nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrUnsupportedPixel, p)
}

// BuildCommand builds an ffmpeg command reading p.Format raw from stdin and
// encoding it to p.Output.
func BuildCommand(p *Params) (string, error) {
	if p.Format == nil {
		return "", fmt.Errorf("format is required")
	}
	if p.Output == "" {
		return "", fmt.Errorf("output path is required")
	}
	if err := ValidateOptions(p.Options); err != nil {
		return "", err
	}

	var cmd strings.Builder
	cmd.WriteString(quote(p.binary()))
	cmd.WriteString(" " + Base())

	// Input configuration
	var filter string
	if p.Format.IsAudio() {
		cmd.WriteString(fmt.Sprintf(" -f s16le -ar %d -ac %d", p.Format.Rate(), p.Format.Channels()))
	} else {
		pixFmt, vf, err := PixelFormat(p.Format.Pixel())
		if err != nil {
			return "", err
		}
		filter = vf
		num, den := p.Format.Framerate()
		cmd.WriteString(" -f rawvideo -pix_fmt " + pixFmt)
		cmd.WriteString(fmt.Sprintf(" -s %dx%d -r %d/%d", p.Format.Width(), p.Format.Height(), num, den))
	}
	cmd.WriteString(" -i pipe:0")

	if filter != "" {
		cmd.WriteString(" -vf " + filter)
	}

	// Encoder
	codec := p.codec()
	if p.Format.IsAudio() {
		cmd.WriteString(" -c:a " + codec)
		if p.Bitrate != "" {
			cmd.WriteString(" -b:a " + p.Bitrate)
		}
	} else {
		cmd.WriteString(" -c:v " + codec)
		if p.Bitrate != "" {
			cmd.WriteString(" -b:v " + p.Bitrate)
		}
		if p.GOP > 0 {
			cmd.WriteString(fmt.Sprintf(" -g %d", p.GOP))
		}
	}

	applyOptions(p.Options, codec, &cmd)

	cmd.WriteString(" -f " + p.container())
	cmd.WriteString(" " + quote(p.Output))

	return cmd.String(), nil
}

// PlaybackCommand builds an ffplay command that plays raw media read from
// stdin. Audio plays without a window.
func PlaybackCommand(binary string, f *media.Format) (string, error) {
	if binary == "" {
		binary = "ffplay"
	}
	var cmd strings.Builder
	cmd.WriteString(quote(binary))
	cmd.WriteString(" -hide_banner -loglevel level+warning -autoexit")

	if f.IsAudio() {
		cmd.WriteString(fmt.Sprintf(" -nodisp -f s16le -ar %d -ch_layout %s", f.Rate(), channelLayout(f.Channels())))
	} else {
		pixFmt, vf, err := PixelFormat(f.Pixel())
		if err != nil {
			return "", err
		}
		num, den := f.Framerate()
		cmd.WriteString(" -f rawvideo -pixel_format " + pixFmt)
		cmd.WriteString(fmt.Sprintf(" -video_size %dx%d -framerate %d/%d", f.Width(), f.Height(), num, den))
		if vf != "" {
			cmd.WriteString(" -vf " + vf)
		}
	}
	cmd.WriteString(" -i pipe:0")
	return cmd.String(), nil
}

func channelLayout(channels int) string {
	switch channels {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	}
	return fmt.Sprintf("%dc", channels)
}

// PackFrame returns the frame with stride padding removed and planes in
// memory order, the tightly packed layout rawvideo input expects. Audio
// buffers are returned unchanged.
func PackFrame(data []byte, f *media.Format) ([]byte, error) {
	if f.IsAudio() {
		return data, nil
	}
	if len(data) < f.FrameSize() {
		return nil, fmt.Errorf("frame is %d bytes, layout needs %d", len(data), f.FrameSize())
	}

	planes := f.Planes()
	order := make([]int, len(planes))
	size := 0
	for i, pl := range planes {
		order[i] = i
		size += pl.Width * pl.PixelStride * pl.Height
	}
	// Insertion sort by offset; at most three planes.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && planes[order[j]].Offset < planes[order[j-1]].Offset; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}

	out := make([]byte, 0, size)
	for _, idx := range order {
		pl := planes[idx]
		row := pl.Width * pl.PixelStride
		for h := 0; h < pl.Height; h++ {
			start := pl.Offset + h*pl.Stride
			out = append(out, data[start:start+row]...)
		}
	}
	return out, nil
}

// quote escapes the characters the process command parser would split on
// or treat as quotes.
func quote(s string) string {
	if !strings.ContainsAny(s, " \t'\"\\") {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(" \t'\"\\", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
