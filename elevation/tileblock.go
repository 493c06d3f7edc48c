package elevation

import (
	"math"

	"github.com/RoaringBitmap/roaring"
	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/twpayne/go-lod"
)

const epsilon = 1e-9

// A texelGrid addresses the texels of a level as a single global raster.
// Columns are counted eastwards from -180 degrees longitude and rows
// northwards from -90 degrees latitude, matching the order of tile rows and of
// the rows within each payload. Texel centers lie at half-integer raster
// coordinates.
type texelGrid struct {
	level       *lod.Level
	width       int
	texelWidth  float64 // Degrees.
	texelHeight float64 // Degrees.
	wrap        bool
	uMin, uMax  float64
	vMin, vMax  float64
	lastColumn  int
	lastRow     int
}

func newTexelGrid(level *lod.Level) *texelGrid {
	sector := level.LevelSet().Sector()
	width, _ := level.RasterSize()
	g := &texelGrid{
		level:       level,
		width:       width,
		texelWidth:  level.TileDelta / float64(level.TileWidth),
		texelHeight: level.TileDelta / float64(level.TileHeight),
	}
	// Longitudes only wrap if a whole number of texels spans the globe.
	g.wrap = sector.DeltaLongitude() >= 360 && math.Abs(360/g.texelWidth-float64(width)) < epsilon
	g.uMin = g.u(sector.MinLongitude())
	g.uMax = g.u(sector.MaxLongitude())
	g.vMin = g.v(sector.MinLatitude())
	g.vMax = g.v(sector.MaxLatitude())
	g.lastColumn = ceil(g.uMax) - 1
	if g.wrap {
		g.lastColumn = width - 1
	}
	g.lastRow = ceil(g.vMax) - 1
	return g
}

func (g *texelGrid) u(longitude float64) float64 {
	return (longitude + 180) / g.texelWidth
}

func (g *texelGrid) v(latitude float64) float64 {
	return (latitude + 90) / g.texelHeight
}

// neighborhood returns the columns i0 and i1, the rows j0 and j1, and the
// fractional offsets a and b of the four texels surrounding the given
// position. Longitude wraps around the globe when the level set covers all
// longitudes. Otherwise positions are clamped to the texel centers at the
// edges of the level set's sector.
func (g *texelGrid) neighborhood(latitude, longitude float64) (i0, i1, j0, j1 int, a, b float64) {
	u := g.u(longitude)
	if !g.wrap {
		u = clamp(u, g.uMin+0.5, g.uMax-0.5)
	}
	x := u - 0.5
	fx := math.Floor(x)
	a = x - fx
	i0, i1 = int(fx), int(fx)+1
	if g.wrap {
		i0, i1 = mod(i0, g.width), mod(i1, g.width)
	} else {
		i1 = min(i1, g.lastColumn)
	}

	v := clamp(g.v(latitude), g.vMin+0.5, g.vMax-0.5)
	y := v - 0.5
	fy := math.Floor(y)
	b = y - fy
	j0 = int(fy)
	j1 = min(j0+1, g.lastRow)
	return
}

// texelRange returns the inclusive ranges of columns and rows of the texels
// that intersect sector.
func (g *texelGrid) texelRange(sector lod.Sector) (iMin, iMax, jMin, jMax int) {
	iMin = max(int(math.Floor(g.u(sector.MinLongitude()))), int(math.Floor(g.uMin)))
	iMax = min(ceil(g.u(sector.MaxLongitude()))-1, g.lastColumn)
	jMin = max(int(math.Floor(g.v(sector.MinLatitude()))), int(math.Floor(g.vMin)))
	jMax = min(ceil(g.v(sector.MaxLatitude()))-1, g.lastRow)
	return
}

// tileAddress returns the tile row and column containing the texel at (i, j)
// and the texel's index in the tile's payload.
func (g *texelGrid) tileAddress(i, j int) (row, column, index int) {
	row = j / g.level.TileHeight
	column = i / g.level.TileWidth
	index = (j%g.level.TileHeight)*g.level.TileWidth + i%g.level.TileWidth
	return
}

// A tileBlock indexes the tiles needed to answer a single query at a single
// level. It is never cached.
type tileBlock struct {
	grid     *texelGrid
	rows     *roaring.Bitmap
	columns  *roaring.Bitmap
	keys     *roaring64.Bitmap
	payloads map[lod.TileKey][]float32
}

func newTileBlock(grid *texelGrid) *tileBlock {
	return &tileBlock{
		grid:     grid,
		rows:     roaring.New(),
		columns:  roaring.New(),
		keys:     roaring64.New(),
		payloads: make(map[lod.TileKey][]float32),
	}
}

// addTexel records the tile containing the texel at (i, j).
func (b *tileBlock) addTexel(i, j int) {
	row, column, _ := b.grid.tileAddress(i, j)
	b.rows.Add(uint32(row))
	b.columns.Add(uint32(column))
	b.keys.Add(uint64(lod.NewTileKey(b.grid.level.LevelNumber, row, column)))
}

// addPoint records the tiles containing the texels needed to interpolate the
// height at the given position.
func (b *tileBlock) addPoint(latitude, longitude float64) {
	i0, i1, j0, j1, _, _ := b.grid.neighborhood(latitude, longitude)
	b.addTexel(i0, j0)
	b.addTexel(i1, j0)
	b.addTexel(i0, j1)
	b.addTexel(i1, j1)
}

// addSector records the tiles containing every texel that intersects sector.
func (b *tileBlock) addSector(sector lod.Sector) {
	iMin, iMax, jMin, jMax := b.grid.texelRange(sector)
	if iMin > iMax || jMin > jMax {
		return
	}
	tileWidth, tileHeight := b.grid.level.TileWidth, b.grid.level.TileHeight
	for j := jMin; j <= jMax; j += tileHeight {
		for i := iMin; i <= iMax; i += tileWidth {
			b.addTexel(i, j)
		}
		b.addTexel(iMax, j)
	}
	for i := iMin; i <= iMax; i += tileWidth {
		b.addTexel(i, jMax)
	}
	b.addTexel(iMax, jMax)
}

// tiles calls f for every tile in b in row then column order.
func (b *tileBlock) tiles(f func(row, column int, key lod.TileKey) bool) {
	levelNumber := b.grid.level.LevelNumber
	rows := b.rows.Iterator()
	for rows.HasNext() {
		row := int(rows.Next())
		columns := b.columns.Iterator()
		for columns.HasNext() {
			column := int(columns.Next())
			key := lod.NewTileKey(levelNumber, row, column)
			if !b.keys.Contains(uint64(key)) {
				continue
			}
			if !f(row, column, key) {
				return
			}
		}
	}
}

// texel returns the value of the texel at (i, j). Missing values are NaN.
func (b *tileBlock) texel(i, j int) float64 {
	row, column, index := b.grid.tileAddress(i, j)
	payload, ok := b.payloads[lod.NewTileKey(b.grid.level.LevelNumber, row, column)]
	if !ok || index >= len(payload) {
		return math.NaN()
	}
	return float64(payload[index])
}

// sample returns the bilinearly interpolated height at the given position.
func (b *tileBlock) sample(latitude, longitude float64) float64 {
	i0, i1, j0, j1, dx, dy := b.grid.neighborhood(latitude, longitude)
	return InterpolateBilinear([4]float64{
		b.texel(i0, j0),
		b.texel(i1, j0),
		b.texel(i0, j1),
		b.texel(i1, j1),
	}, dx, dy)
}

// limits scans the texels intersecting sector.
func (b *tileBlock) limits(sector lod.Sector) Limits {
	limits := NewLimits()
	iMin, iMax, jMin, jMax := b.grid.texelRange(sector)
	for j := jMin; j <= jMax; j++ {
		for i := iMin; i <= iMax; i++ {
			limits.Add(b.texel(i, j))
		}
	}
	return limits
}

// ceil returns the smallest integer not less than x, ignoring rounding error.
func ceil(x float64) int {
	return int(math.Ceil(x - epsilon))
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
