package sinks

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smazurov/feednode/internal/media"
)

func audioBuffer(t *testing.T, f *media.Format, seq uint64, pts time.Duration, samples []int16) *media.Buffer {
	t.Helper()
	data := make([]byte, 0, len(samples)*media.BytesPerSample)
	for _, s := range samples {
		data = binary.LittleEndian.AppendUint16(data, uint16(s))
	}
	units := uint64(len(samples) / f.Channels())
	return &media.Buffer{
		Seq:       seq,
		Data:      data,
		PTS:       pts,
		DTS:       pts,
		Duration:  time.Duration(units) * time.Second / time.Duration(f.Rate()),
		OffsetEnd: units,
		Format:    f,
	}
}

func videoBuffer(t *testing.T, f *media.Format, seq uint64, pts time.Duration, fill byte) *media.Buffer {
	t.Helper()
	data := make([]byte, f.FrameSize())
	for i := 0; i < f.NPlanes(); i++ {
		pl := f.Plane(i)
		for h := 0; h < pl.Height; h++ {
			row := data[pl.Offset+h*pl.Stride:]
			for w := 0; w < pl.Width*pl.PixelStride; w++ {
				row[w] = fill
			}
		}
	}
	return &media.Buffer{Seq: seq, Data: data, PTS: pts, DTS: pts, Duration: 40 * time.Millisecond, Format: f}
}

// fakeEncoder writes a script that copies stdin to its last argument.
func fakeEncoder(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSegmentPath(t *testing.T) {
	tests := []struct {
		output string
		n      int
		want   string
	}{
		{"/out/feed.mkv", 0, "/out/feed.mkv"},
		{"/out/feed.mkv", 1, "/out/feed-001.mkv"},
		{"/out/feed.mkv", 12, "/out/feed-012.mkv"},
		{"feed", 2, "feed-002"},
	}
	for _, tt := range tests {
		if got := SegmentPath(tt.output, tt.n); got != tt.want {
			t.Errorf("SegmentPath(%q, %d) = %q, want %q", tt.output, tt.n, got, tt.want)
		}
	}
}

func TestEncodeSegmentsOnFormatChange(t *testing.T) {
	out := filepath.Join(t.TempDir(), "feed.mkv")
	enc, err := NewEncode("encode", Config{Kind: KindEncode, Binary: fakeEncoder(t, `cat > "$last"`), Output: out})
	if err != nil {
		t.Fatal(err)
	}

	// RGB 2x2 has 2 bytes of row padding; packed frames are 12 bytes.
	big, _ := media.NewVideoFormat(media.PixelRGB, 2, 2, 30, 1)
	small, _ := media.NewVideoFormat(media.PixelGRAY8, 2, 1, 30, 1)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := enc.Consume(ctx, videoBuffer(t, big, uint64(i), 0, 7)); err != nil {
			t.Fatalf("Consume: %v", err)
		}
	}
	for i := 3; i < 5; i++ {
		if err := enc.Consume(ctx, videoBuffer(t, small, uint64(i), 0, 9)); err != nil {
			t.Fatalf("Consume: %v", err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files := enc.Files()
	if len(files) != 2 || files[0] != out || files[1] != SegmentPath(out, 1) {
		t.Fatalf("files = %v", files)
	}
	first, _ := os.ReadFile(files[0])
	if len(first) != 3*12 {
		t.Errorf("segment 0 is %d bytes, want 36", len(first))
	}
	for _, b := range first {
		if b != 7 {
			t.Fatalf("segment 0 contains padding byte %d", b)
		}
	}
	second, _ := os.ReadFile(files[1])
	if len(second) != 2*2 {
		t.Errorf("segment 1 is %d bytes, want 4", len(second))
	}
}

func TestEncodeReportsEncoderFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "feed.mkv")
	enc, err := NewEncode("encode", Config{Binary: fakeEncoder(t, "exit 3"), Output: out})
	if err != nil {
		t.Fatal(err)
	}
	f, _ := media.NewVideoFormat(media.PixelGRAY8, 4, 4, 30, 1)

	// The write may or may not race the exit; either path must surface an error.
	consumeErr := enc.Consume(context.Background(), videoBuffer(t, f, 0, 0, 1))
	closeErr := enc.Close()
	if consumeErr == nil && closeErr == nil {
		t.Error("expected an error from a failing encoder")
	}
}

func TestNewEncodeValidates(t *testing.T) {
	if _, err := NewEncode("e", Config{}); err == nil {
		t.Error("expected error without output")
	}
	if _, err := NewEncode("e", Config{Output: "x.mkv", Options: []string{"realtime", "good_quality"}}); err == nil {
		t.Error("expected error for exclusive options")
	}
}

func TestPlaybackDropsLateBuffers(t *testing.T) {
	now := time.Unix(1000, 0)
	p := NewPlayback("playback", Config{Sync: true, MaxLateness: 50 * time.Millisecond})
	p.now = func() time.Time { return now }

	f, _ := media.NewAudioFormat(8000, 1)
	ctx := context.Background()
	if err := p.Consume(ctx, audioBuffer(t, f, 0, 0, make([]int16, 80))); err != nil {
		t.Fatal(err)
	}

	now = now.Add(time.Second)
	if err := p.Consume(ctx, audioBuffer(t, f, 1, 10*time.Millisecond, make([]int16, 80))); err != nil {
		t.Fatal(err)
	}
	if err := p.Consume(ctx, audioBuffer(t, f, 2, 990*time.Millisecond, make([]int16, 80))); err != nil {
		t.Fatal(err)
	}

	if p.Rendered() != 2 || p.Late() != 1 {
		t.Errorf("rendered = %d late = %d, want 2 and 1", p.Rendered(), p.Late())
	}
}

func TestPlaybackPacesByPTS(t *testing.T) {
	p := NewPlayback("playback", Config{Sync: true})
	f, _ := media.NewVideoFormat(media.PixelGRAY8, 2, 2, 25, 1)

	start := time.Now()
	for i := 0; i < 3; i++ {
		buf := videoBuffer(t, f, uint64(i), time.Duration(i)*30*time.Millisecond, 0)
		if err := p.Consume(context.Background(), buf); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 55*time.Millisecond {
		t.Errorf("three buffers 30ms apart rendered in %v", elapsed)
	}
}

func TestPlaybackCancel(t *testing.T) {
	p := NewPlayback("playback", Config{Sync: true})
	f, _ := media.NewVideoFormat(media.PixelGRAY8, 2, 2, 25, 1)
	ctx, cancel := context.WithCancel(context.Background())

	if err := p.Consume(ctx, videoBuffer(t, f, 0, 0, 0)); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := p.Consume(ctx, videoBuffer(t, f, 1, time.Hour, 0)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestVisualAudioLevels(t *testing.T) {
	var levels []Level
	v := NewVisual("visual", 10*time.Millisecond, func(l Level) { levels = append(levels, l) })
	f, _ := media.NewAudioFormat(1000, 2)

	ctx := context.Background()
	// Five sample frames per buffer = 5ms; two buffers make one interval.
	left := []int16{1000, 0, -1000, 0, 16384, 0, 0, 0, 0, 0}
	for i := 0; i < 2; i++ {
		if err := v.Consume(ctx, audioBuffer(t, f, uint64(i), time.Duration(i)*5*time.Millisecond, left)); err != nil {
			t.Fatal(err)
		}
	}
	if len(levels) != 1 {
		t.Fatalf("got %d levels, want 1", len(levels))
	}
	l := levels[0]
	if l.Buffers != 2 || l.Duration != 10*time.Millisecond {
		t.Errorf("level = %+v", l)
	}
	wantPeak := 20 * math.Log10(16384.0/32768)
	if math.Abs(l.Peak[0]-wantPeak) > 1e-9 {
		t.Errorf("left peak = %f, want %f", l.Peak[0], wantPeak)
	}
	if l.Peak[1] != MinDB || l.RMS[1] != MinDB {
		t.Errorf("silent channel = %f/%f, want %f", l.Peak[1], l.RMS[1], MinDB)
	}
}

func TestVisualVideoLumaAndFormatFlush(t *testing.T) {
	var levels []Level
	v := NewVisual("visual", time.Second, func(l Level) { levels = append(levels, l) })
	a, _ := media.NewVideoFormat(media.PixelI420, 5, 3, 25, 1)
	b, _ := media.NewVideoFormat(media.PixelGRAY8, 4, 4, 25, 1)

	ctx := context.Background()
	_ = v.Consume(ctx, videoBuffer(t, a, 0, 0, 100))
	_ = v.Consume(ctx, videoBuffer(t, b, 1, 40*time.Millisecond, 50))
	_ = v.Close()

	if len(levels) != 2 {
		t.Fatalf("got %d levels, want 2", len(levels))
	}
	if levels[0].Luma != 100 || levels[1].Luma != 50 {
		t.Errorf("luma = %f, %f; want 100, 50", levels[0].Luma, levels[1].Luma)
	}
	if v.Last() == nil || v.Last().Caps != b.Caps() {
		t.Errorf("Last() = %+v", v.Last())
	}
}

func TestWAVRecordsAndSegments(t *testing.T) {
	out := filepath.Join(t.TempDir(), "feed.wav")
	w, err := NewWAV("wav", out)
	if err != nil {
		t.Fatal(err)
	}
	mono, _ := media.NewAudioFormat(44100, 1)
	stereo, _ := media.NewAudioFormat(22050, 2)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := w.Consume(ctx, audioBuffer(t, mono, uint64(i), 0, make([]int16, 1000))); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Consume(ctx, audioBuffer(t, stereo, 3, 0, make([]int16, 200))); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	files := w.Files()
	if len(files) != 2 {
		t.Fatalf("files = %v", files)
	}

	tests := []struct {
		path     string
		channels uint16
		rate     uint32
		dataSize int
	}{
		{files[0], 1, 44100, 3000 * 2},
		{files[1], 2, 22050, 200 * 2},
	}
	for _, tt := range tests {
		data, err := os.ReadFile(tt.path)
		if err != nil {
			t.Fatal(err)
		}
		if len(data) != 44+tt.dataSize {
			t.Errorf("%s is %d bytes, want %d", tt.path, len(data), 44+tt.dataSize)
			continue
		}
		if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
			t.Errorf("%s: bad header", tt.path)
		}
		if ch := binary.LittleEndian.Uint16(data[22:]); ch != tt.channels {
			t.Errorf("%s channels = %d, want %d", tt.path, ch, tt.channels)
		}
		if rate := binary.LittleEndian.Uint32(data[24:]); rate != tt.rate {
			t.Errorf("%s rate = %d, want %d", tt.path, rate, tt.rate)
		}
		if bits := binary.LittleEndian.Uint16(data[34:]); bits != 16 {
			t.Errorf("%s bits = %d, want 16", tt.path, bits)
		}
	}
}

func TestWAVRejects(t *testing.T) {
	if _, err := NewWAV("wav", ""); err == nil {
		t.Error("expected error without output")
	}

	w, _ := NewWAV("wav", filepath.Join(t.TempDir(), "x.wav"))
	video, _ := media.NewVideoFormat(media.PixelGRAY8, 2, 2, 25, 1)
	if err := w.Consume(context.Background(), videoBuffer(t, video, 0, 0, 0)); !errors.Is(err, ErrNotAudio) {
		t.Errorf("err = %v, want ErrNotAudio", err)
	}
	surround, _ := media.NewAudioFormat(48000, 6)
	if err := w.Consume(context.Background(), audioBuffer(t, surround, 0, 0, make([]int16, 12))); err == nil {
		t.Error("expected error for 6 channels")
	}
}

func TestAppSinkStats(t *testing.T) {
	var seen []uint64
	a := NewAppSink(func(b *media.Buffer) { seen = append(seen, b.Seq) })
	f1, _ := media.NewAudioFormat(8000, 1)
	f2, _ := media.NewAudioFormat(16000, 1)

	ctx := context.Background()
	_ = a.Consume(ctx, audioBuffer(t, f1, 0, 0, make([]int16, 10)))
	_ = a.Consume(ctx, audioBuffer(t, f1, 1, time.Millisecond, make([]int16, 10)))
	_ = a.Consume(ctx, audioBuffer(t, f2, 2, 2*time.Millisecond, make([]int16, 10)))
	_ = a.Close()

	st := a.Stats()
	if st.Buffers != 3 || st.Bytes != 60 || st.LastSeq != 2 || !st.Closed {
		t.Errorf("stats = %+v", st)
	}
	if len(st.Formats) != 2 || len(seen) != 3 {
		t.Errorf("formats = %v seen = %v", st.Formats, seen)
	}
}

func TestNewByKind(t *testing.T) {
	if _, err := ParseKind("scope"); err == nil {
		t.Error("expected error for unknown kind")
	}
	for _, kind := range []Kind{KindPlayback, KindVisual, KindAppSink} {
		c, err := New("b", Config{Kind: kind}, Hooks{})
		if err != nil || c == nil {
			t.Errorf("New(%s) = %v, %v", kind, c, err)
		}
	}
	if _, err := New("b", Config{Kind: KindWAV}, Hooks{}); err == nil {
		t.Error("expected error for wav without output")
	}
}
