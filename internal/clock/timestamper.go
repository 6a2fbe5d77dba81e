package clock

import (
	"fmt"
	"time"

	"github.com/smazurov/feednode/internal/media"
)

// Timestamper stamps buffers from a running unit count. PTS is derived from
// the cumulative count since the last rate change, never from summed
// durations, so rounding does not accumulate.
type Timestamper struct {
	timeBase uint64
	rateNum  uint64
	rateDen  uint64

	base      time.Duration // PTS at the last rate change
	baseUnits uint64        // stream offset at the last rate change
	units     uint64        // units stamped since the last rate change
	last      time.Duration // end of the previous buffer
}

// NewTimestamper creates a timestamper for num/den units per second.
func NewTimestamper(rateNum, rateDen uint64) (*Timestamper, error) {
	if rateNum == 0 || rateDen == 0 {
		return nil, fmt.Errorf("invalid unit rate %d/%d", rateNum, rateDen)
	}
	return &Timestamper{timeBase: Second, rateNum: rateNum, rateDen: rateDen}, nil
}

// ForFormat creates a timestamper using the unit rate of f.
func ForFormat(f *media.Format) (*Timestamper, error) {
	num, den := f.UnitRate()
	return NewTimestamper(num, den)
}

// SetRate changes the unit rate. Subsequent timestamps continue from the end
// of the last stamped buffer.
func (t *Timestamper) SetRate(rateNum, rateDen uint64) error {
	if rateNum == 0 || rateDen == 0 {
		return fmt.Errorf("invalid unit rate %d/%d", rateNum, rateDen)
	}
	if rateNum*t.rateDen == t.rateNum*rateDen {
		return nil
	}
	t.baseUnits += t.units
	t.units = 0
	t.base = t.last
	t.rateNum, t.rateDen = rateNum, rateDen
	return nil
}

// Duration returns the exact duration of the given unit count at the
// current rate.
func (t *Timestamper) Duration(units uint64) time.Duration {
	return time.Duration(Scale(units, t.timeBase*t.rateDen, t.rateNum))
}

// Stamp sets PTS, DTS, duration and unit offsets on b for a buffer holding
// units samples or frames.
func (t *Timestamper) Stamp(b *media.Buffer, units uint64) {
	pts := t.base + t.Duration(t.units)

	b.PTS = pts
	b.DTS = pts
	b.Duration = t.Duration(units)
	b.Offset = t.baseUnits + t.units
	b.OffsetEnd = b.Offset + units

	t.units += units
	t.last = t.base + t.Duration(t.units)
}

// Next returns the PTS the next buffer will receive.
func (t *Timestamper) Next() time.Duration {
	return t.base + t.Duration(t.units)
}

// Units returns the total number of units stamped.
func (t *Timestamper) Units() uint64 {
	return t.baseUnits + t.units
}
