package tilesource_test

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-lod"
	"github.com/twpayne/go-lod/tilesource"
)

func TestSQLiteSource(t *testing.T) {
	ctx := t.Context()
	source, err := tilesource.OpenSQLiteSource(ctx, filepath.Join(t.TempDir(), "tiles.db"))
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, source.Close())
	}()

	tile := newTestTile(t, 1, 2)
	data, err := tilesource.EncodeBIL16([]float32{-1, 0, 1, 2}, 2, 2, binary.LittleEndian, tilesource.DefaultMissingValue)
	assert.NoError(t, err)
	assert.NoError(t, source.Put(ctx, tile.Key(), data))

	actual, err := source.Decode(ctx, tile)
	assert.NoError(t, err)
	assert.Equal(t, []float32{-1, 0, 1, 2}, actual)

	data, err = tilesource.EncodeBIL16([]float32{5, 6, 7, 8}, 2, 2, binary.LittleEndian, tilesource.DefaultMissingValue)
	assert.NoError(t, err)
	assert.NoError(t, source.Put(ctx, tile.Key(), data))
	actual, err = source.Decode(ctx, tile)
	assert.NoError(t, err)
	assert.Equal(t, []float32{5, 6, 7, 8}, actual)

	_, err = source.Decode(ctx, newTestTile(t, 0, 2))
	assert.IsError(t, err, lod.ErrTileAbsent)
}

func TestSQLiteSourceReopen(t *testing.T) {
	ctx := t.Context()
	uri := filepath.Join(t.TempDir(), "tiles.db")
	tile := newTestTile(t, 0, 3)

	source, err := tilesource.OpenSQLiteSource(ctx, uri)
	assert.NoError(t, err)
	data, err := tilesource.EncodeBIL16([]float32{1, 1, 1, 1}, 2, 2, binary.LittleEndian, tilesource.DefaultMissingValue)
	assert.NoError(t, err)
	assert.NoError(t, source.Put(ctx, tile.Key(), data))
	assert.NoError(t, source.Close())

	source, err = tilesource.OpenSQLiteSource(ctx, uri)
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, source.Close())
	}()
	actual, err := source.Decode(ctx, tile)
	assert.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 1, 1}, actual)
}
