package synth

import (
	"errors"
	"fmt"

	"github.com/smazurov/feednode/internal/media"
)

// ErrPlaneMismatch is returned when a fill table does not have one entry
// per plane of the format being applied.
var ErrPlaneMismatch = errors.New("fill table does not match plane count")

// VideoState counts produced frames.
type VideoState struct {
	Frames uint64
}

// DefaultFills returns the default per-plane fill values for n planes:
// plane 2 is 255, every other plane is 0.
func DefaultFills(n int) []byte {
	fills := make([]byte, n)
	if n > 2 {
		fills[2] = 255
	}
	return fills
}

// SynthesizeVideo renders one frame where every pixel of plane p is set to
// fills[p]. Pixels are addressed through the plane offset, row stride and
// pixel stride, so padding bytes between rows stay zero.
func SynthesizeVideo(st VideoState, f *media.Format, fills []byte) ([]byte, VideoState, error) {
	if !f.IsVideo() {
		return nil, st, fmt.Errorf("video synthesis needs a video format, got %s", f)
	}
	if len(fills) != f.NPlanes() {
		return nil, st, fmt.Errorf("%w: %d values for %d planes of %s", ErrPlaneMismatch, len(fills), f.NPlanes(), f)
	}

	data := make([]byte, f.FrameSize())
	for p, plane := range f.Planes() {
		fillPlane(data, plane, fills[p])
	}
	st.Frames++
	return data, st, nil
}

func fillPlane(data []byte, plane media.Plane, value byte) {
	for row := 0; row < plane.Height; row++ {
		rowStart := plane.Offset + row*plane.Stride
		for col := 0; col < plane.Width; col++ {
			px := rowStart + col*plane.PixelStride
			pixel := data[px : px+plane.PixelStride]
			for i := range pixel {
				pixel[i] = value
			}
		}
	}
}
