package lod_test

import (
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-lod"
)

func TestSector(t *testing.T) {
	s := lod.NewSector(-10, 20, 30, 70)
	assert.Equal(t, -10.0, s.MinLatitude())
	assert.Equal(t, 20.0, s.MaxLatitude())
	assert.Equal(t, 30.0, s.MinLongitude())
	assert.Equal(t, 70.0, s.MaxLongitude())
	assert.Equal(t, 30.0, s.DeltaLatitude())
	assert.Equal(t, 40.0, s.DeltaLongitude())
	assert.False(t, s.IsEmpty())
	assert.False(t, s.IsFullSphere())
	assert.True(t, lod.FullSphere().IsFullSphere())
	assert.True(t, lod.NewSector(0, 0, 0, 1).IsEmpty())
	assert.True(t, s.Contains(0, 50))
	assert.True(t, s.Contains(20, 70))
	assert.False(t, s.Contains(21, 50))
}

func TestSectorIntersection(t *testing.T) {
	for _, tc := range []struct {
		name       string
		a          lod.Sector
		b          lod.Sector
		expected   lod.Sector
		expectedOK bool
	}{
		{
			name:       "overlap",
			a:          lod.NewSector(0, 10, 0, 10),
			b:          lod.NewSector(5, 15, -5, 5),
			expected:   lod.NewSector(5, 10, 0, 5),
			expectedOK: true,
		},
		{
			name:       "contained",
			a:          lod.FullSphere(),
			b:          lod.NewSector(1, 2, 3, 4),
			expected:   lod.NewSector(1, 2, 3, 4),
			expectedOK: true,
		},
		{
			name: "shared_edge",
			a:    lod.NewSector(0, 10, 0, 10),
			b:    lod.NewSector(10, 20, 0, 10),
		},
		{
			name: "disjoint",
			a:    lod.NewSector(0, 10, 0, 10),
			b:    lod.NewSector(20, 30, 20, 30),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expectedOK, tc.a.Intersects(tc.b))
			assert.Equal(t, tc.expectedOK, tc.b.Intersects(tc.a))
			actual, ok := tc.a.Intersection(tc.b)
			assert.Equal(t, tc.expectedOK, ok)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestLinspace(t *testing.T) {
	assert.Equal(t, []float64(nil), lod.Linspace(0, 1, 0))
	assert.Equal(t, []float64{3}, lod.Linspace(3, 7, 1))
	assert.Equal(t, []float64{0, 1}, lod.Linspace(0, 1, 2))
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75, 1}, lod.Linspace(0, 1, 5))
	values := lod.Linspace(-90, 90, 7)
	assert.Equal(t, 7, len(values))
	assert.Equal(t, -90.0, values[0])
	assert.Equal(t, 90.0, values[6])
}
