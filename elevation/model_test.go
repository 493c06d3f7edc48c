package elevation_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-lod"
	"github.com/twpayne/go-lod/elevation"
)

// A constantSource has a constant height over its sector.
type constantSource struct {
	sector      lod.Sector
	height      float64
	disabled    bool
	timestamp   time.Time
	closeErr    error
	completions int
}

func (s *constantSource) Enabled() bool                      { return !s.disabled }
func (s *constantSource) HasCoverage(sector lod.Sector) bool { return s.sector.Intersects(sector) }
func (s *constantSource) ProcessCompletions() int            { return s.completions }
func (s *constantSource) Timestamp() time.Time               { return s.timestamp }
func (s *constantSource) Close() error                       { return s.closeErr }

func (s *constantSource) Height(ctx context.Context, latitude, longitude, radiansPerSample float64) float64 {
	if !s.sector.Contains(latitude, longitude) {
		return math.NaN()
	}
	return s.height
}

func (s *constantSource) HeightGrid(ctx context.Context, sector lod.Sector, width, height int, result []float64) (bool, error) {
	written := false
	for y, latitude := range lod.Linspace(sector.MinLatitude(), sector.MaxLatitude(), height) {
		for x, longitude := range lod.Linspace(sector.MinLongitude(), sector.MaxLongitude(), width) {
			if s.sector.Contains(latitude, longitude) {
				result[y*width+x] = s.height
				written = true
			}
		}
	}
	return written, nil
}

func (s *constantSource) HeightLimits(ctx context.Context, sector lod.Sector, limits *elevation.Limits) bool {
	if !s.sector.Intersects(sector) {
		return false
	}
	limits.Add(s.height)
	return true
}

func TestModelHeight(t *testing.T) {
	ctx := t.Context()
	base := &constantSource{sector: lod.FullSphere(), height: 100}
	overlay := &constantSource{sector: lod.NewSector(0, 90, 0, 90), height: 200}
	model := elevation.NewModel(base, overlay)
	assert.Equal(t, 2, model.Len())

	assert.Equal(t, 200.0, model.Height(ctx, 45, 45, coarse))
	assert.Equal(t, 100.0, model.Height(ctx, -45, 45, coarse))

	overlay.disabled = true
	assert.Equal(t, 100.0, model.Height(ctx, 45, 45, coarse))

	base.disabled = true
	assert.True(t, math.IsNaN(model.Height(ctx, 45, 45, coarse)))
}

func TestModelHeightGrid(t *testing.T) {
	ctx := t.Context()
	model := elevation.NewModel(
		&constantSource{sector: lod.FullSphere(), height: 100},
		&constantSource{sector: lod.NewSector(0, 90, 0, 90), height: 200},
	)

	result := nans(9)
	ok, err := model.HeightGrid(ctx, lod.NewSector(-45, 45, -45, 45), 3, 3, result)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float64{
		100, 100, 100,
		100, 200, 200,
		100, 200, 200,
	}, result)

	result = nans(4)
	ok, err = elevation.NewModel().HeightGrid(ctx, lod.FullSphere(), 2, 2, result)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestModelHeightLimits(t *testing.T) {
	ctx := t.Context()
	model := elevation.NewModel(
		&constantSource{sector: lod.NewSector(-90, 0, -180, 180), height: -50},
		&constantSource{sector: lod.NewSector(0, 90, 0, 90), height: 200},
		&constantSource{sector: lod.NewSector(0, 90, -90, 0), height: 1000},
	)

	limits := elevation.NewLimits()
	assert.True(t, model.HeightLimits(ctx, lod.NewSector(-10, 10, 10, 20), &limits))
	assert.Equal(t, elevation.Limits{Min: -50, Max: 200}, limits)

	limits = elevation.NewLimits()
	assert.True(t, model.HeightLimits(ctx, lod.NewSector(10, 20, -20, 20), &limits))
	assert.Equal(t, elevation.Limits{Min: 200, Max: 1000}, limits)

	limits = elevation.NewLimits()
	assert.False(t, model.HeightLimits(ctx, lod.NewSector(10, 20, 100, 120), &limits))
	assert.False(t, limits.Valid())
}

func TestModelSources(t *testing.T) {
	a := &constantSource{sector: lod.NewSector(0, 10, 0, 10), timestamp: time.Unix(1, 0), completions: 1}
	b := &constantSource{sector: lod.NewSector(20, 30, 20, 30), timestamp: time.Unix(3, 0), completions: 2}
	c := &constantSource{sector: lod.NewSector(40, 50, 40, 50), timestamp: time.Unix(2, 0)}
	model := elevation.NewModel(a)
	model.Add(b)
	model.Add(c)
	assert.Equal(t, []elevation.Source{a, b, c}, model.Sources())

	assert.True(t, model.HasCoverage(lod.NewSector(25, 26, 25, 26)))
	assert.False(t, model.HasCoverage(lod.NewSector(60, 70, 60, 70)))
	assert.Equal(t, time.Unix(3, 0), model.Timestamp())
	assert.Equal(t, 3, model.ProcessCompletions())

	assert.True(t, model.Remove(b))
	assert.False(t, model.Remove(b))
	assert.Equal(t, []elevation.Source{a, c}, model.Sources())
	assert.False(t, model.HasCoverage(lod.NewSector(25, 26, 25, 26)))
	assert.Equal(t, time.Unix(2, 0), model.Timestamp())
}

func TestModelClose(t *testing.T) {
	errA := errors.New("a")
	errC := errors.New("c")
	model := elevation.NewModel(
		&constantSource{closeErr: errA},
		&constantSource{},
		&constantSource{closeErr: errC},
	)
	err := model.Close()
	assert.IsError(t, err, errA)
	assert.IsError(t, err, errC)
}

func TestModelCoverages(t *testing.T) {
	ctx := t.Context()
	base := newTestCoverage(t, newTestLevelSet(t, lod.FullSphere(), 1), newTestDecoder(levelPayload))
	overlay := newTestCoverage(t, newTestLevelSet(t, lod.NewSector(0, 90, 0, 90), 1), newTestDecoder(func(tile lod.Tile) ([]float32, error) {
		return constantPayload(tile, 200), nil
	}))
	model := elevation.NewModel(base, overlay)

	assert.True(t, math.IsNaN(model.Height(ctx, 45, 45, coarse)))
	assert.True(t, math.IsNaN(model.Height(ctx, -45, -45, coarse)))
	assert.Equal(t, 3, model.ProcessCompletions())
	assert.Equal(t, 200.0, model.Height(ctx, 45, 45, coarse))
	assert.Equal(t, 100.0, model.Height(ctx, -45, -45, coarse))
	assert.False(t, model.Timestamp().IsZero())
}
