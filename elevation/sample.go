package elevation

import (
	"math"
)

// InterpolateBilinear interpolates between the four samples at the corners of
// a unit square. samples are ordered (0, 0), (1, 0), (0, 1), (1, 1) and dx and
// dy are the offsets within the square. Samples with zero weight do not
// contribute, so a missing (NaN) neighbor does not affect a value sampled
// exactly on a texel.
func InterpolateBilinear(samples [4]float64, dx, dy float64) float64 {
	return lerp(lerp(samples[0], samples[1], dx), lerp(samples[2], samples[3], dx), dy)
}

func lerp(a, b, t float64) float64 {
	switch t {
	case 0:
		return a
	case 1:
		return b
	default:
		return a + (b-a)*t
	}
}

// A Limits is a range of heights.
type Limits struct {
	Min float64
	Max float64
}

// NewLimits returns an empty Limits.
func NewLimits() Limits {
	return Limits{
		Min: math.Inf(1),
		Max: math.Inf(-1),
	}
}

// Valid returns whether l contains at least one height.
func (l Limits) Valid() bool {
	return l.Min <= l.Max
}

// Add extends l to include height. NaNs are ignored.
func (l *Limits) Add(height float64) {
	if math.IsNaN(height) {
		return
	}
	l.Min = min(l.Min, height)
	l.Max = max(l.Max, height)
}

// Union extends l to include other.
func (l *Limits) Union(other Limits) {
	if !other.Valid() {
		return
	}
	l.Min = min(l.Min, other.Min)
	l.Max = max(l.Max, other.Max)
}
