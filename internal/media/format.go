package media

import (
	"fmt"
	"strings"
)

// Kind distinguishes audio and video descriptors.
type Kind string

// Descriptor kinds.
const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// PixelFormat names a raw video layout.
type PixelFormat string

// Supported pixel formats.
const (
	PixelRGB   PixelFormat = "RGB"
	PixelBGRx  PixelFormat = "BGRx"
	PixelGRAY8 PixelFormat = "GRAY8"
	PixelI420  PixelFormat = "I420"
	PixelYV12  PixelFormat = "YV12"
	PixelNV12  PixelFormat = "NV12"
	PixelY444  PixelFormat = "Y444"
)

// SampleFormatS16LE is the only audio sample layout produced.
const SampleFormatS16LE = "S16LE"

// BytesPerSample is the width of one S16LE sample.
const BytesPerSample = 2

// Plane describes one plane of a video frame.
type Plane struct {
	Offset      int `json:"offset"`
	Stride      int `json:"stride"`
	PixelStride int `json:"pixel_stride"`
	Width       int `json:"width"`
	Height      int `json:"height"`
}

// Format is an immutable buffer shape. Build it with NewAudioFormat,
// NewVideoFormat or ParseCaps; derived layout is always computed there.
type Format struct {
	kind Kind

	// audio
	rate     int
	channels int

	// video
	pixel  PixelFormat
	width  int
	height int
	fpsNum int
	fpsDen int
	planes []Plane
	size   int
}

// NewAudioFormat creates an S16LE interleaved audio descriptor.
func NewAudioFormat(rate, channels int) (*Format, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", rate)
	}
	if channels <= 0 || channels > 8 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	return &Format{kind: KindAudio, rate: rate, channels: channels}, nil
}

// MaxDimension bounds video width and height.
const MaxDimension = 16384

// NewVideoFormat creates a video descriptor and computes its plane layout.
func NewVideoFormat(pixel PixelFormat, width, height, fpsNum, fpsDen int) (*Format, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid geometry %dx%d", width, height)
	}
	if width > MaxDimension || height > MaxDimension {
		return nil, fmt.Errorf("geometry %dx%d exceeds %dx%d", width, height, MaxDimension, MaxDimension)
	}
	if fpsNum <= 0 || fpsDen <= 0 {
		return nil, fmt.Errorf("invalid framerate %d/%d", fpsNum, fpsDen)
	}

	planes, size, err := computeLayout(pixel, width, height)
	if err != nil {
		return nil, err
	}

	return &Format{
		kind:   KindVideo,
		pixel:  pixel,
		width:  width,
		height: height,
		fpsNum: fpsNum,
		fpsDen: fpsDen,
		planes: planes,
		size:   size,
	}, nil
}

// Kind returns the descriptor kind.
func (f *Format) Kind() Kind { return f.kind }

// IsAudio reports whether f describes audio.
func (f *Format) IsAudio() bool { return f.kind == KindAudio }

// IsVideo reports whether f describes video.
func (f *Format) IsVideo() bool { return f.kind == KindVideo }

// Rate returns the audio sample rate.
func (f *Format) Rate() int { return f.rate }

// Channels returns the audio channel count.
func (f *Format) Channels() int { return f.channels }

// Pixel returns the video pixel format.
func (f *Format) Pixel() PixelFormat { return f.pixel }

// Width returns the video width in pixels.
func (f *Format) Width() int { return f.width }

// Height returns the video height in pixels.
func (f *Format) Height() int { return f.height }

// Framerate returns the video frame rate as num/den.
func (f *Format) Framerate() (num, den int) { return f.fpsNum, f.fpsDen }

// NPlanes returns the number of planes (1 for audio).
func (f *Format) NPlanes() int {
	if f.kind == KindAudio {
		return 1
	}
	return len(f.planes)
}

// Planes returns a copy of the plane layout.
func (f *Format) Planes() []Plane {
	out := make([]Plane, len(f.planes))
	copy(out, f.planes)
	return out
}

// Plane returns the layout of plane i.
func (f *Format) Plane(i int) Plane { return f.planes[i] }

// FrameSize returns the byte size of one video frame.
func (f *Format) FrameSize() int { return f.size }

// SampleFrameSize returns the bytes of one interleaved audio sample frame.
func (f *Format) SampleFrameSize() int { return BytesPerSample * f.channels }

// UnitRate returns the unit rate as a fraction: samples per second for
// audio, frames per second for video.
func (f *Format) UnitRate() (num, den uint64) {
	if f.kind == KindAudio {
		return uint64(f.rate), 1
	}
	return uint64(f.fpsNum), uint64(f.fpsDen)
}

// Equal reports whether two descriptors describe the same shape.
func (f *Format) Equal(o *Format) bool {
	if f == nil || o == nil {
		return f == o
	}
	return f.Caps() == o.Caps()
}

// Caps renders the descriptor as a caps string.
func (f *Format) Caps() string {
	if f.kind == KindAudio {
		return fmt.Sprintf("audio/x-raw,format=%s,layout=interleaved,rate=%d,channels=%d",
			SampleFormatS16LE, f.rate, f.channels)
	}
	return fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d,framerate=%d/%d",
		f.pixel, f.width, f.height, f.fpsNum, f.fpsDen)
}

// String implements fmt.Stringer.
func (f *Format) String() string {
	if f == nil {
		return "<nil>"
	}
	return f.Caps()
}

// ParsePixelFormat matches a pixel format name case-insensitively.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for _, p := range []PixelFormat{PixelRGB, PixelBGRx, PixelGRAY8, PixelI420, PixelYV12, PixelNV12, PixelY444} {
		if strings.EqualFold(string(p), s) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unsupported pixel format %q", s)
}
