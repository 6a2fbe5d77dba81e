package clock

import (
	"math"
	"testing"
	"time"

	"github.com/smazurov/feednode/internal/media"
)

func TestScale(t *testing.T) {
	tests := []struct {
		name            string
		val, num, denom uint64
		want            uint64
	}{
		{"one chunk at 44100", 1024, Second, 44100, 23219954},
		{"one frame at 30fps", 1, Second, 30, 33333333},
		{"ntsc frame", 1, Second * 1001, 30000, 33366666},
		{"exact second", 44100, Second, 44100, Second},
		{"large count no overflow", 1 << 40, Second, 48000, 22906492245333333},
		{"zero denom saturates", 1, 1, 0, math.MaxUint64},
		{"overflow saturates", math.MaxUint64, math.MaxUint64, 1, math.MaxUint64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Scale(tt.val, tt.num, tt.denom); got != tt.want {
				t.Errorf("Scale(%d, %d, %d) = %d, want %d", tt.val, tt.num, tt.denom, got, tt.want)
			}
		})
	}
}

// Audio at 44100 Hz, one channel, 1024-sample chunks: PTS increases
// monotonically and every buffer has the same exact duration.
func TestAudioChunksConstantDuration(t *testing.T) {
	f, err := media.NewAudioFormat(44100, 1)
	if err != nil {
		t.Fatal(err)
	}
	ts, err := ForFormat(f)
	if err != nil {
		t.Fatal(err)
	}

	const chunk = 1024
	wantDuration := time.Duration(chunk * Second / 44100)

	var prev time.Duration = -1
	for n := 0; n < 10000; n++ {
		b := &media.Buffer{}
		ts.Stamp(b, chunk)

		if b.Duration != wantDuration {
			t.Fatalf("buffer %d duration = %d, want %d", n, b.Duration, wantDuration)
		}
		if b.PTS <= prev {
			t.Fatalf("buffer %d PTS %d not increasing (prev %d)", n, b.PTS, prev)
		}
		if b.PTS != b.DTS {
			t.Fatalf("buffer %d PTS %d != DTS %d", n, b.PTS, b.DTS)
		}
		if want := time.Duration(Scale(uint64(n)*chunk, Second, 44100)); b.PTS != want {
			t.Fatalf("buffer %d PTS = %d, want %d (drift)", n, b.PTS, want)
		}
		prev = b.PTS
	}
}

func TestDurationFollowsUnitsPerBuffer(t *testing.T) {
	ts, _ := NewTimestamper(48000, 1)

	for _, units := range []uint64{480, 960, 1, 1024, 3} {
		b := &media.Buffer{}
		ts.Stamp(b, units)
		if want := time.Duration(units * Second / 48000); b.Duration != want {
			t.Errorf("units %d duration = %d, want %d", units, b.Duration, want)
		}
		if b.Units() != units {
			t.Errorf("Units() = %d, want %d", b.Units(), units)
		}
	}
}

func TestRateChangeKeepsTimestampsMonotonic(t *testing.T) {
	ts, _ := NewTimestamper(30, 1)

	var last *media.Buffer
	for i := 0; i < 7; i++ {
		last = &media.Buffer{}
		ts.Stamp(last, 1)
	}

	if err := ts.SetRate(25, 1); err != nil {
		t.Fatal(err)
	}

	next := &media.Buffer{}
	ts.Stamp(next, 1)

	if next.PTS != last.End() {
		t.Errorf("PTS after rate change = %d, want %d", next.PTS, last.End())
	}
	if next.Duration != 40*time.Millisecond {
		t.Errorf("duration after rate change = %v, want 40ms", next.Duration)
	}
	if next.Offset != 7 || ts.Units() != 8 {
		t.Errorf("offset = %d units = %d, want 7 and 8", next.Offset, ts.Units())
	}
}

func TestSetRateSameRateIsNoop(t *testing.T) {
	ts, _ := NewTimestamper(30, 1)
	b := &media.Buffer{}
	ts.Stamp(b, 1)
	before := ts.Next()

	if err := ts.SetRate(60, 2); err != nil {
		t.Fatal(err)
	}
	if ts.Next() != before {
		t.Errorf("equivalent rate rebased: %d != %d", ts.Next(), before)
	}
}

func TestInvalidRate(t *testing.T) {
	if _, err := NewTimestamper(0, 1); err == nil {
		t.Error("expected error for zero rate")
	}
	ts, _ := NewTimestamper(1, 1)
	if err := ts.SetRate(1, 0); err == nil {
		t.Error("expected error for zero denominator")
	}
}
