// Package clock assigns presentation timestamps and durations to produced
// buffers using exact integer scaling.
package clock

import (
	"math"
	"math/bits"
)

// Second is the time base in nanoseconds.
const Second uint64 = 1_000_000_000

// Scale returns val*num/denom rounded down, computed with a 128-bit
// intermediate so large unit counts never overflow. It saturates at
// math.MaxUint64 when the result does not fit.
func Scale(val, num, denom uint64) uint64 {
	if denom == 0 {
		return math.MaxUint64
	}
	hi, lo := bits.Mul64(val, num)
	if hi >= denom {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, denom)
	return q
}
