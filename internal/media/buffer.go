package media

import "time"

// Buffer is one produced unit of raw media. It is handed off once and not
// retained by the producer afterwards.
type Buffer struct {
	Seq       uint64
	Data      []byte
	PTS       time.Duration
	DTS       time.Duration
	Duration  time.Duration
	Offset    uint64 // first unit (sample or frame) in the stream
	OffsetEnd uint64
	Format    *Format
}

// Units returns the number of samples or frames the buffer carries.
func (b *Buffer) Units() uint64 { return b.OffsetEnd - b.Offset }

// End returns PTS + Duration.
func (b *Buffer) End() time.Duration { return b.PTS + b.Duration }
