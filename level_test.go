package lod_test

import (
	"errors"
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-lod"
)

func TestNewLevelSet(t *testing.T) {
	levelSet, err := lod.NewLevelSet(lod.FullSphere(), 90, 3, 4, 4)
	assert.NoError(t, err)

	assert.Equal(t, 3, levelSet.NumLevels())
	assert.Equal(t, 0, levelSet.FirstLevel().LevelNumber)
	assert.Equal(t, 2, levelSet.LastLevel().LevelNumber)
	assert.True(t, levelSet.Level(-1) == nil)
	assert.True(t, levelSet.Level(3) == nil)

	for i, expected := range []struct {
		tileDelta float64
		width     int
		height    int
	}{
		{tileDelta: 90, width: 16, height: 8},
		{tileDelta: 45, width: 32, height: 16},
		{tileDelta: 22.5, width: 64, height: 32},
	} {
		level := levelSet.Level(i)
		assert.Equal(t, expected.tileDelta, level.TileDelta)
		assert.Equal(t, expected.width, level.Width)
		assert.Equal(t, expected.height, level.Height)
		assert.Equal(t, levelSet, level.LevelSet())
		width, height := level.RasterSize()
		assert.Equal(t, expected.width, width)
		assert.Equal(t, expected.height, height)
	}

	assert.True(t, levelSet.FirstLevel().IsFirstLevel())
	assert.True(t, levelSet.LastLevel().IsLastLevel())
	assert.True(t, levelSet.FirstLevel().PreviousLevel() == nil)
	assert.True(t, levelSet.LastLevel().NextLevel() == nil)
	assert.Equal(t, levelSet.Level(1), levelSet.FirstLevel().NextLevel())
	assert.Equal(t, levelSet.Level(1), levelSet.LastLevel().PreviousLevel())
}

func TestNewLevelSetErrors(t *testing.T) {
	for _, tc := range []struct {
		name            string
		sector          lod.Sector
		firstLevelDelta float64
		numLevels       int
		tileWidth       int
		tileHeight      int
	}{
		{name: "empty_sector", sector: lod.NewSector(0, 0, 0, 10), firstLevelDelta: 90, numLevels: 1, tileWidth: 4, tileHeight: 4},
		{name: "zero_delta", sector: lod.FullSphere(), firstLevelDelta: 0, numLevels: 1, tileWidth: 4, tileHeight: 4},
		{name: "negative_delta", sector: lod.FullSphere(), firstLevelDelta: -1, numLevels: 1, tileWidth: 4, tileHeight: 4},
		{name: "nan_delta", sector: lod.FullSphere(), firstLevelDelta: math.NaN(), numLevels: 1, tileWidth: 4, tileHeight: 4},
		{name: "zero_levels", sector: lod.FullSphere(), firstLevelDelta: 90, numLevels: 0, tileWidth: 4, tileHeight: 4},
		{name: "too_many_levels", sector: lod.FullSphere(), firstLevelDelta: 90, numLevels: 257, tileWidth: 4, tileHeight: 4},
		{name: "zero_tile_width", sector: lod.FullSphere(), firstLevelDelta: 90, numLevels: 1, tileWidth: 0, tileHeight: 4},
		{name: "zero_tile_height", sector: lod.FullSphere(), firstLevelDelta: 90, numLevels: 1, tileWidth: 4, tileHeight: 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := lod.NewLevelSet(tc.sector, tc.firstLevelDelta, tc.numLevels, tc.tileWidth, tc.tileHeight)
			assert.True(t, errors.Is(err, lod.ErrInvalidLevelSet))
		})
	}
}

func TestLevelForResolution(t *testing.T) {
	levelSet, err := lod.NewLevelSet(lod.FullSphere(), 90, 3, 4, 4)
	assert.NoError(t, err)

	firstLevelResolution := lod.DegreesToRadians(90.0 / 4)
	for _, tc := range []struct {
		name             string
		radiansPerSample float64
		expected         int
	}{
		{name: "coarser_than_first", radiansPerSample: 4 * firstLevelResolution, expected: 0},
		{name: "first", radiansPerSample: firstLevelResolution, expected: 0},
		{name: "between_first_and_second", radiansPerSample: 0.75 * firstLevelResolution, expected: 1},
		{name: "second", radiansPerSample: firstLevelResolution / 2, expected: 1},
		{name: "third", radiansPerSample: firstLevelResolution / 4, expected: 2},
		{name: "finer_than_last", radiansPerSample: firstLevelResolution / 1024, expected: 2},
		{name: "zero", radiansPerSample: 0, expected: 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, levelSet.LevelForResolution(tc.radiansPerSample).LevelNumber)
		})
	}
}
