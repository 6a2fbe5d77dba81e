package synth

import (
	"fmt"

	"github.com/smazurov/feednode/internal/media"
)

// Generator owns the synthesis state of one run. It is not safe for
// concurrent use; the feed loop is its only caller.
type Generator struct {
	kind       media.Kind
	audio      AudioState
	video      VideoState
	chunkBytes int
	fills      []byte
}

// NewAudioGenerator creates a generator producing chunkBytes of audio per
// buffer.
func NewAudioGenerator(chunkBytes int) (*Generator, error) {
	if chunkBytes < media.BytesPerSample {
		return nil, fmt.Errorf("chunk size %d too small", chunkBytes)
	}
	return &Generator{kind: media.KindAudio, audio: NewAudioState(), chunkBytes: chunkBytes}, nil
}

// NewVideoGenerator creates a generator filling plane p with fills[p].
func NewVideoGenerator(fills []byte) *Generator {
	return &Generator{kind: media.KindVideo, fills: append([]byte(nil), fills...)}
}

// Accept checks that f can be synthesized by this generator. It is called
// whenever a format is applied.
func (g *Generator) Accept(f *media.Format) error {
	if f.Kind() != g.kind {
		return fmt.Errorf("%s generator cannot produce %s", g.kind, f)
	}
	if g.kind == media.KindVideo && len(g.fills) != f.NPlanes() {
		return fmt.Errorf("%w: %d values for %d planes of %s", ErrPlaneMismatch, len(g.fills), f.NPlanes(), f)
	}
	if g.kind == media.KindAudio && g.chunkBytes < f.SampleFrameSize() {
		return fmt.Errorf("chunk size %d smaller than one sample frame of %s", g.chunkBytes, f)
	}
	return nil
}

// Next synthesizes the next buffer payload for f and returns it with the
// number of units (sample frames or video frames) it holds.
func (g *Generator) Next(f *media.Format) ([]byte, uint64, error) {
	if g.kind == media.KindAudio {
		data, st, units, err := SynthesizeAudio(g.audio, f, g.chunkBytes)
		if err != nil {
			return nil, 0, err
		}
		g.audio = st
		return data, units, nil
	}

	data, st, err := SynthesizeVideo(g.video, f, g.fills)
	if err != nil {
		return nil, 0, err
	}
	g.video = st
	return data, 1, nil
}

// Kind reports whether the generator produces audio or video.
func (g *Generator) Kind() media.Kind { return g.kind }

// AudioState returns a copy of the current oscillator state.
func (g *Generator) AudioState() AudioState { return g.audio }

// VideoState returns a copy of the current frame counter.
func (g *Generator) VideoState() VideoState { return g.video }
