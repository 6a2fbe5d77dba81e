// Package synth produces deterministic raw audio and video payloads.
package synth

import (
	"encoding/binary"
	"fmt"

	"github.com/smazurov/feednode/internal/media"
)

// AudioState holds the oscillator accumulators. The zero value is not a
// valid starting state; use NewAudioState.
type AudioState struct {
	A, B, C, D float32
	Samples    uint64 // sample frames produced so far
}

// NewAudioState returns the initial oscillator state.
func NewAudioState() AudioState {
	return AudioState{B: 1, D: 1}
}

// SynthesizeAudio fills size bytes (rounded down to whole sample frames) of
// interleaved S16LE audio. The frequency sweeps once per buffer and the
// oscillator advances once per sample frame; every channel of a frame
// carries the same sample. It returns the payload, the advanced state and
// the number of sample frames written.
func SynthesizeAudio(st AudioState, f *media.Format, size int) ([]byte, AudioState, uint64, error) {
	if !f.IsAudio() {
		return nil, st, 0, fmt.Errorf("audio synthesis needs an audio format, got %s", f)
	}
	frameSize := f.SampleFrameSize()
	frames := size / frameSize
	if frames <= 0 {
		return nil, st, 0, fmt.Errorf("buffer size %d smaller than one sample frame (%d bytes)", size, frameSize)
	}

	data := make([]byte, frames*frameSize)

	st.C += st.D
	st.D -= st.C / 1000
	freq := 1100 + float32(1000*st.D)

	channels := f.Channels()
	off := 0
	for i := 0; i < frames; i++ {
		st.A += st.B
		st.B -= st.A / freq
		// Out-of-range values wrap modulo 2^16.
		sample := uint16(int16(int32(float32(5000 * st.A))))
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint16(data[off:], sample)
			off += media.BytesPerSample
		}
	}
	st.Samples += uint64(frames)

	return data, st, uint64(frames), nil
}
