package elevation_test

import (
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-lod/elevation"
)

func TestInterpolateBilinear(t *testing.T) {
	samples := [4]float64{0, 1, 2, 3}
	for _, tc := range []struct {
		dx       float64
		dy       float64
		expected float64
	}{
		{dx: 0, dy: 0, expected: 0},
		{dx: 1, dy: 0, expected: 1},
		{dx: 0, dy: 1, expected: 2},
		{dx: 1, dy: 1, expected: 3},
		{dx: 0.5, dy: 0.5, expected: 1.5},
		{dx: 0.5, dy: 0, expected: 0.5},
		{dx: 0, dy: 0.5, expected: 1},
		{dx: 1, dy: 0.5, expected: 2},
		{dx: 0.5, dy: 1, expected: 2.5},
	} {
		assert.Equal(t, tc.expected, elevation.InterpolateBilinear(samples, tc.dx, tc.dy))
	}
}

func TestInterpolateBilinearNaN(t *testing.T) {
	nan := math.NaN()
	assert.Equal(t, 7.0, elevation.InterpolateBilinear([4]float64{7, nan, nan, nan}, 0, 0))
	assert.Equal(t, 4.0, elevation.InterpolateBilinear([4]float64{nan, nan, 4, 6}, 0, 1))
	assert.True(t, math.IsNaN(elevation.InterpolateBilinear([4]float64{7, nan, 1, 1}, 0.5, 0.5)))
}

func TestLimits(t *testing.T) {
	limits := elevation.NewLimits()
	assert.False(t, limits.Valid())
	limits.Add(math.NaN())
	assert.False(t, limits.Valid())
	limits.Add(3)
	limits.Add(-1)
	assert.Equal(t, elevation.Limits{Min: -1, Max: 3}, limits)

	limits.Union(elevation.NewLimits())
	assert.Equal(t, elevation.Limits{Min: -1, Max: 3}, limits)
	limits.Union(elevation.Limits{Min: 0, Max: 10})
	assert.Equal(t, elevation.Limits{Min: -1, Max: 10}, limits)
}
