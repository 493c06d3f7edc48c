package lod

import (
	"errors"
	"fmt"
	"math"
)

// MaxLevels is the maximum number of levels in a LevelSet. Level numbers are
// stored in eight bits of a TileKey.
const MaxLevels = 256

var ErrInvalidLevelSet = errors.New("invalid level set")

// A LevelSet is a multi-resolution hierarchy of levels over a sector. Each
// level has twice the angular resolution of the previous one. A LevelSet is
// immutable once constructed.
type LevelSet struct {
	sector     Sector
	levels     []*Level
	tileWidth  int
	tileHeight int
}

// A Level is one resolution tier of a LevelSet.
type Level struct {
	parent      *LevelSet
	LevelNumber int
	TileDelta   float64 // Angular span of one tile in degrees.
	Width       int     // Samples across the level set's sector.
	Height      int     // Samples down the level set's sector.
	TileWidth   int
	TileHeight  int
}

// NewLevelSet returns a new LevelSet over sector with numLevels levels. The
// first level's tiles span firstLevelDelta degrees.
func NewLevelSet(sector Sector, firstLevelDelta float64, numLevels, tileWidth, tileHeight int) (*LevelSet, error) {
	switch {
	case sector.IsEmpty():
		return nil, fmt.Errorf("%w: empty sector", ErrInvalidLevelSet)
	case !(firstLevelDelta > 0):
		return nil, fmt.Errorf("%w: first level delta %f", ErrInvalidLevelSet, firstLevelDelta)
	case numLevels < 1 || numLevels > MaxLevels:
		return nil, fmt.Errorf("%w: %d levels", ErrInvalidLevelSet, numLevels)
	case tileWidth < 1 || tileHeight < 1:
		return nil, fmt.Errorf("%w: tile size %dx%d", ErrInvalidLevelSet, tileWidth, tileHeight)
	}

	s := &LevelSet{
		sector:     sector,
		levels:     make([]*Level, numLevels),
		tileWidth:  tileWidth,
		tileHeight: tileHeight,
	}
	for i := range numLevels {
		tileDelta := firstLevelDelta / math.Exp2(float64(i))
		s.levels[i] = &Level{
			parent:      s,
			LevelNumber: i,
			TileDelta:   tileDelta,
			Width:       int(math.Round(float64(tileWidth) * sector.DeltaLongitude() / tileDelta)),
			Height:      int(math.Round(float64(tileHeight) * sector.DeltaLatitude() / tileDelta)),
			TileWidth:   tileWidth,
			TileHeight:  tileHeight,
		}
	}
	return s, nil
}

// Sector returns s's sector.
func (s *LevelSet) Sector() Sector {
	return s.sector
}

// TileSize returns the number of samples across and down each tile.
func (s *LevelSet) TileSize() (int, int) {
	return s.tileWidth, s.tileHeight
}

func (s *LevelSet) NumLevels() int {
	return len(s.levels)
}

// Level returns the level with levelNumber, or nil if there is no such level.
func (s *LevelSet) Level(levelNumber int) *Level {
	if levelNumber < 0 || levelNumber >= len(s.levels) {
		return nil
	}
	return s.levels[levelNumber]
}

// FirstLevel returns the coarsest level.
func (s *LevelSet) FirstLevel() *Level {
	return s.levels[0]
}

// LastLevel returns the finest level.
func (s *LevelSet) LastLevel() *Level {
	return s.levels[len(s.levels)-1]
}

// LevelForResolution returns the coarsest level whose texel size does not
// exceed radiansPerSample, or the last level if no level is that fine.
func (s *LevelSet) LevelForResolution(radiansPerSample float64) *Level {
	if !(radiansPerSample > 0) {
		return s.LastLevel()
	}
	firstLevel := s.FirstLevel()
	firstLevelResolution := math.Max(firstLevel.TexelWidth(), firstLevel.TexelHeight())
	levelNumber := math.Ceil(math.Log2(firstLevelResolution / radiansPerSample))
	switch {
	case levelNumber < 0:
		return s.FirstLevel()
	case levelNumber >= float64(len(s.levels)):
		return s.LastLevel()
	default:
		return s.levels[int(levelNumber)]
	}
}

// LevelSet returns the LevelSet that l belongs to.
func (l *Level) LevelSet() *LevelSet {
	return l.parent
}

func (l *Level) IsFirstLevel() bool {
	return l.LevelNumber == 0
}

func (l *Level) IsLastLevel() bool {
	return l.LevelNumber == len(l.parent.levels)-1
}

// PreviousLevel returns the next coarser level, or nil if l is the first level.
func (l *Level) PreviousLevel() *Level {
	return l.parent.Level(l.LevelNumber - 1)
}

// NextLevel returns the next finer level, or nil if l is the last level.
func (l *Level) NextLevel() *Level {
	return l.parent.Level(l.LevelNumber + 1)
}

// TexelWidth returns the angular width of one sample in radians.
func (l *Level) TexelWidth() float64 {
	return DegreesToRadians(l.TileDelta / float64(l.TileWidth))
}

// TexelHeight returns the angular height of one sample in radians.
func (l *Level) TexelHeight() float64 {
	return DegreesToRadians(l.TileDelta / float64(l.TileHeight))
}

// RasterSize returns the number of samples across and down the whole globe at
// l's resolution. Rows and columns of texels are addressed in this raster.
func (l *Level) RasterSize() (int, int) {
	width := int(math.Round(360 * float64(l.TileWidth) / l.TileDelta))
	height := int(math.Round(180 * float64(l.TileHeight) / l.TileDelta))
	return width, height
}

// DegreesToRadians converts degrees to radians.
func DegreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
