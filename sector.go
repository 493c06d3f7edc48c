package lod

import (
	"math"

	"github.com/paulmach/orb"
)

// A Sector is a geographic bounding box in degrees. X is longitude and Y is
// latitude.
type Sector orb.Bound

// NewSector returns a new Sector.
func NewSector(minLatitude, maxLatitude, minLongitude, maxLongitude float64) Sector {
	return Sector{
		Min: orb.Point{minLongitude, minLatitude},
		Max: orb.Point{maxLongitude, maxLatitude},
	}
}

// FullSphere returns the Sector covering the whole globe.
func FullSphere() Sector {
	return NewSector(-90, 90, -180, 180)
}

func (s Sector) MinLatitude() float64  { return s.Min.Lat() }
func (s Sector) MaxLatitude() float64  { return s.Max.Lat() }
func (s Sector) MinLongitude() float64 { return s.Min.Lon() }
func (s Sector) MaxLongitude() float64 { return s.Max.Lon() }

func (s Sector) DeltaLatitude() float64  { return s.Max.Lat() - s.Min.Lat() }
func (s Sector) DeltaLongitude() float64 { return s.Max.Lon() - s.Min.Lon() }

// IsEmpty returns true if s has no area.
func (s Sector) IsEmpty() bool {
	return !(s.DeltaLatitude() > 0) || !(s.DeltaLongitude() > 0)
}

// IsFullSphere returns true if s covers the whole globe.
func (s Sector) IsFullSphere() bool {
	return s.MinLatitude() <= -90 && s.MaxLatitude() >= 90 && s.MinLongitude() <= -180 && s.MaxLongitude() >= 180
}

// Contains returns true if the location is inside s or on its boundary.
func (s Sector) Contains(latitude, longitude float64) bool {
	return orb.Bound(s).Contains(orb.Point{longitude, latitude})
}

// Intersects returns true if the interiors of s and other overlap. Sectors
// that only share an edge do not intersect.
func (s Sector) Intersects(other Sector) bool {
	return s.MinLongitude() < other.MaxLongitude() &&
		other.MinLongitude() < s.MaxLongitude() &&
		s.MinLatitude() < other.MaxLatitude() &&
		other.MinLatitude() < s.MaxLatitude()
}

// Intersection returns the intersection of s and other. It returns false if
// they do not intersect.
func (s Sector) Intersection(other Sector) (Sector, bool) {
	if !s.Intersects(other) {
		return Sector{}, false
	}
	return NewSector(
		math.Max(s.MinLatitude(), other.MinLatitude()),
		math.Min(s.MaxLatitude(), other.MaxLatitude()),
		math.Max(s.MinLongitude(), other.MinLongitude()),
		math.Min(s.MaxLongitude(), other.MaxLongitude()),
	), true
}

// Linspace returns n values evenly spaced from min to max inclusive. The last
// value is always exactly max, so grid samples along a sector's far edge line
// up with the sector boundary.
func Linspace(min, max float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{min}
	}
	values := make([]float64, n)
	delta := (max - min) / float64(n-1)
	for i := range n - 1 {
		values[i] = min + float64(i)*delta
	}
	values[n-1] = max
	return values
}
