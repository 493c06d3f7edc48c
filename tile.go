package lod

import (
	"errors"
	"fmt"
	"math"
)

// ErrTileAbsent is returned by tile decoders when a tile has no payload and
// never will, for example because the source does not cover it.
var ErrTileAbsent = errors.New("tile absent")

// DefaultPathFormat is the default format used by PathTileFactory. Its
// arguments are the level number, row, and column.
const DefaultPathFormat = "%[1]d/%[2]d/%[2]d_%[3]d.bil"

const (
	tileKeyLevelShift = 56
	tileKeyRowShift   = 28
	tileKeyRowMask    = 1<<28 - 1
	tileKeyColumnMask = 1<<28 - 1
)

// A TileKey identifies a tile within a LevelSet. It packs the level number in
// the top eight bits, then 28 bits each of row and column.
type TileKey uint64

// A Tile is an addressable unit of a Level. Rows are counted northwards from
// -90 degrees latitude and columns eastwards from -180 degrees longitude.
type Tile struct {
	Sector Sector
	Level  *Level
	Row    int
	Column int
	Source string // Identifies the tile's payload, for example a path or URL.
}

// A TileFactory creates tiles.
type TileFactory interface {
	CreateTile(sector Sector, level *Level, row, column int) Tile
}

// A TileFactoryFunc is a function that implements TileFactory.
type TileFactoryFunc func(sector Sector, level *Level, row, column int) Tile

// A PathTileFactory creates tiles whose Source is Format formatted with the
// tile's level number, row, and column.
type PathTileFactory struct {
	Format string
}

// NewTileKey returns the TileKey for the given level number, row, and column.
func NewTileKey(levelNumber, row, column int) TileKey {
	return TileKey(uint64(levelNumber)<<tileKeyLevelShift |
		uint64(row&tileKeyRowMask)<<tileKeyRowShift |
		uint64(column&tileKeyColumnMask))
}

func (k TileKey) LevelNumber() int { return int(k >> tileKeyLevelShift) }
func (k TileKey) Row() int         { return int(k>>tileKeyRowShift) & tileKeyRowMask }
func (k TileKey) Column() int      { return int(k) & tileKeyColumnMask }

func (k TileKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.LevelNumber(), k.Row(), k.Column())
}

// Key returns t's TileKey.
func (t Tile) Key() TileKey {
	return NewTileKey(t.Level.LevelNumber, t.Row, t.Column)
}

func (t Tile) String() string {
	return t.Key().String()
}

// CreateTile implements TileFactory.
func (f TileFactoryFunc) CreateTile(sector Sector, level *Level, row, column int) Tile {
	return f(sector, level, row, column)
}

// CreateTile implements TileFactory.
func (f PathTileFactory) CreateTile(sector Sector, level *Level, row, column int) Tile {
	format := f.Format
	if format == "" {
		format = DefaultPathFormat
	}
	return Tile{
		Sector: sector,
		Level:  level,
		Row:    row,
		Column: column,
		Source: fmt.Sprintf(format, level.LevelNumber, row, column),
	}
}

// ComputeRow returns the row containing latitude for tiles spanning
// tileDelta degrees. Latitude 90 maps to the last row.
func ComputeRow(tileDelta, latitude float64) int {
	if latitude >= 90 {
		return lastIndex(180, tileDelta)
	}
	return int(math.Floor((latitude + 90) / tileDelta))
}

// ComputeColumn returns the column containing longitude for tiles spanning
// tileDelta degrees. Longitude 180 maps to the last column.
func ComputeColumn(tileDelta, longitude float64) int {
	if longitude >= 180 {
		return lastIndex(360, tileDelta)
	}
	return int(math.Floor((longitude + 180) / tileDelta))
}

// ComputeLastRow returns the last row touched by a sector whose maximum
// latitude is maxLatitude. A tile that the sector only touches along its
// southern edge is excluded.
func ComputeLastRow(tileDelta, maxLatitude float64) int {
	if maxLatitude+90 < tileDelta {
		return 0
	}
	return int(math.Ceil((maxLatitude+90)/tileDelta - 1))
}

// ComputeLastColumn returns the last column touched by a sector whose maximum
// longitude is maxLongitude. A tile that the sector only touches along its
// western edge is excluded.
func ComputeLastColumn(tileDelta, maxLongitude float64) int {
	if maxLongitude+180 < tileDelta {
		return 0
	}
	return int(math.Ceil((maxLongitude+180)/tileDelta - 1))
}

// TileSector returns the sector covered by the tile at row and column of
// level.
func TileSector(level *Level, row, column int) Sector {
	minLatitude := -90 + float64(row)*level.TileDelta
	minLongitude := -180 + float64(column)*level.TileDelta
	return NewSector(minLatitude, minLatitude+level.TileDelta, minLongitude, minLongitude+level.TileDelta)
}

// AssembleTiles appends to tiles every tile of level that intersects both
// sector and level's LevelSet sector, creating each with factory.
func AssembleTiles(level *Level, sector Sector, factory TileFactory, tiles []Tile) []Tile {
	sector, ok := level.LevelSet().Sector().Intersection(sector)
	if !ok {
		return tiles
	}
	firstRow := ComputeRow(level.TileDelta, sector.MinLatitude())
	lastRow := ComputeLastRow(level.TileDelta, sector.MaxLatitude())
	firstColumn := ComputeColumn(level.TileDelta, sector.MinLongitude())
	lastColumn := ComputeLastColumn(level.TileDelta, sector.MaxLongitude())
	for row := firstRow; row <= lastRow; row++ {
		for column := firstColumn; column <= lastColumn; column++ {
			tiles = append(tiles, factory.CreateTile(TileSector(level, row, column), level, row, column))
		}
	}
	return tiles
}

func lastIndex(span, tileDelta float64) int {
	return int(math.Ceil(span/tileDelta)) - 1
}
