package tilesource

import (
	"bytes"
	"compress/lzw"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"
	"testing/fstest"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-lod"
)

func newTestGeoTIFFIFD() *geoTIFFIFD {
	return &geoTIFFIFD{
		ImageWidth:                16,
		ImageLength:               8,
		BitsPerSample:             32,
		Compression:               5,
		PhotometricInterpretation: 1,
		SamplesPerPixel:           1,
		PlanarConfiguration:       1,
		Predictor:                 1,
		TileWidth:                 4,
		TileLength:                4,
		TileOffsets:               []uint64{100, 200, 300, 400, 500, 600, 700, 800},
		TileByteCounts:            []uint64{90, 80, 12, 90, 90, 90, 90, 90},
		SampleFormat:              3,
		ModelPixelScaleTag:        []float64{22.5, 22.5, 0},
		ModelTiepointTag:          []float64{0, 0, 0, -180, 90, 0},
		GeoKeyDirectoryTag: []uint16{
			1, 1, 0, 2,
			1024, 0, 1, 2,
			2048, 0, 1, 4326,
		},
		GDALNoData: "-9999\x00",
	}
}

func newTestGeoTIFFLevelSet(t *testing.T) *lod.LevelSet {
	t.Helper()
	levelSet, err := lod.NewLevelSet(lod.FullSphere(), 90, 2, 4, 4)
	assert.NoError(t, err)
	return levelSet
}

func TestNewGeoTIFFLevel(t *testing.T) {
	level := newTestGeoTIFFLevelSet(t).FirstLevel()
	l, err := newGeoTIFFLevel(newTestGeoTIFFIFD(), level)
	assert.NoError(t, err)
	assert.Equal(t, 4, l.tilesAcross)
	assert.Equal(t, 2, l.tilesDown)
	assert.Equal(t, uint64(12), l.smallestTileByteCount)
	assert.Equal(t, 4*4*4, l.tileByteCountUncompressed)
	assert.Equal(t, float32(-9999), l.noData)

	for _, tc := range []struct {
		row           int
		column        int
		expectedIndex int
		expectedOK    bool
	}{
		{row: 1, column: 0, expectedIndex: 0, expectedOK: true},
		{row: 1, column: 3, expectedIndex: 3, expectedOK: true},
		{row: 0, column: 0, expectedIndex: 4, expectedOK: true},
		{row: 0, column: 3, expectedIndex: 7, expectedOK: true},
	} {
		tile := lod.PathTileFactory{}.CreateTile(lod.TileSector(level, tc.row, tc.column), level, tc.row, tc.column)
		actualIndex, actualOK := l.tileIndex(tile)
		assert.Equal(t, tc.expectedOK, actualOK)
		assert.Equal(t, tc.expectedIndex, actualIndex)
	}
}

func TestNewGeoTIFFLevelDefaultNoData(t *testing.T) {
	ifd := newTestGeoTIFFIFD()
	ifd.GDALNoData = ""
	l, err := newGeoTIFFLevel(ifd, newTestGeoTIFFLevelSet(t).FirstLevel())
	assert.NoError(t, err)
	assert.Equal(t, math.Float32bits(noData), math.Float32bits(l.noData))
}

func TestNewGeoTIFFLevelErrors(t *testing.T) {
	levelSet := newTestGeoTIFFLevelSet(t)
	for _, tc := range []struct {
		name        string
		level       *lod.Level
		modify      func(*geoTIFFIFD)
		expectedErr error
	}{
		{
			name:        "compression",
			level:       levelSet.FirstLevel(),
			modify:      func(ifd *geoTIFFIFD) { ifd.Compression = 8 },
			expectedErr: errors.ErrUnsupported,
		},
		{
			name:        "projected",
			level:       levelSet.FirstLevel(),
			modify:      func(ifd *geoTIFFIFD) { ifd.GeoKeyDirectoryTag[7] = 1 },
			expectedErr: errors.ErrUnsupported,
		},
		{
			name:        "geo_keys",
			level:       levelSet.FirstLevel(),
			modify:      func(ifd *geoTIFFIFD) { ifd.GeoKeyDirectoryTag[3] = 3 },
			expectedErr: ErrInvalidGeoKeys,
		},
		{
			name:   "pixel_scale",
			level:  levelSet.LastLevel(),
			modify: func(ifd *geoTIFFIFD) {},
		},
		{
			name:   "tile_size",
			level:  levelSet.FirstLevel(),
			modify: func(ifd *geoTIFFIFD) { ifd.TileWidth = 8 },
		},
		{
			name:   "tile_offsets",
			level:  levelSet.FirstLevel(),
			modify: func(ifd *geoTIFFIFD) { ifd.TileOffsets = ifd.TileOffsets[:7] },
		},
		{
			name:   "no_data",
			level:  levelSet.FirstLevel(),
			modify: func(ifd *geoTIFFIFD) { ifd.GDALNoData = "none" },
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ifd := newTestGeoTIFFIFD()
			tc.modify(ifd)
			_, err := newGeoTIFFLevel(ifd, tc.level)
			assert.Error(t, err)
			if tc.expectedErr != nil {
				assert.IsError(t, err, tc.expectedErr)
			}
		})
	}
}

func TestDecodeFloat32Tile(t *testing.T) {
	tileData := make([]byte, 0, 4*4)
	for _, sample := range []float32{1, 2, -9999, 4} {
		tileData = binary.LittleEndian.AppendUint32(tileData, math.Float32bits(sample))
	}
	samples, empty := decodeFloat32Tile(tileData, 2, 2, -9999)
	assert.False(t, empty)
	assert.Equal(t, 4, len(samples))
	assert.True(t, math.IsNaN(float64(samples[0])))
	assert.Equal(t, []float32{4, 1, 2}, samples[1:])

	tileData = tileData[:0]
	for range 4 {
		tileData = binary.LittleEndian.AppendUint32(tileData, noDataBits)
	}
	_, empty = decodeFloat32Tile(tileData, 2, 2, noData)
	assert.True(t, empty)
}

// compressTestTile LZW compresses samples as a little-endian float32 TIFF
// tile. Short tiles never reach the code width at which TIFF's LZW variant
// differs from compress/lzw.
func compressTestTile(t *testing.T, samples []float32) []byte {
	t.Helper()
	var buffer bytes.Buffer
	w := lzw.NewWriter(&buffer, lzw.MSB, 8)
	for _, sample := range samples {
		_, err := w.Write(binary.LittleEndian.AppendUint32(nil, math.Float32bits(sample)))
		assert.NoError(t, err)
	}
	assert.NoError(t, w.Close())
	return buffer.Bytes()
}

func TestGeoTIFFLevelTileSamples(t *testing.T) {
	// Tile 0 holds its indexes, top row first. Tile 1 is empty.
	samples := make([]float32, 16)
	emptySamples := make([]float32, 16)
	for i := range samples {
		samples[i] = float32(i)
		emptySamples[i] = -9999
	}
	tileData := compressTestTile(t, samples)
	emptyTileData := compressTestTile(t, emptySamples)

	file, err := fstest.MapFS{
		"0.tif": &fstest.MapFile{Data: append(append([]byte{}, tileData...), emptyTileData...)},
	}.Open("0.tif")
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, file.Close())
	}()

	l := &geoTIFFLevel{
		file:                      file.(geoTIFFFile),
		tileWidth:                 4,
		tileLength:                4,
		tilesAcross:               2,
		tilesDown:                 1,
		tileOffsets:               []uint64{0, uint64(len(tileData))},
		tileByteCounts:            []uint64{uint64(len(tileData)), uint64(len(emptyTileData))},
		smallestTileByteCount:     uint64(min(len(tileData), len(emptyTileData))),
		tileByteCountUncompressed: 4 * 4 * 4,
		noData:                    -9999,
	}

	actual, err := l.tileSamples(0)
	assert.NoError(t, err)
	assert.Equal(t, []float32{
		12, 13, 14, 15,
		8, 9, 10, 11,
		4, 5, 6, 7,
		0, 1, 2, 3,
	}, actual)

	_, err = l.tileSamples(1)
	assert.IsError(t, err, lod.ErrTileAbsent)
	assert.Equal(t, emptyTileData, l.emptyTileBytes)

	// Once learned, empty tiles are recognized without decompression.
	_, err = l.compressedTileData(1)
	assert.IsError(t, err, lod.ErrTileAbsent)
	compressedData, err := l.compressedTileData(0)
	assert.NoError(t, err)
	assert.Equal(t, tileData, compressedData)
}

func TestGeoTIFFLevelTileSamplesCorrupt(t *testing.T) {
	tileData := compressTestTile(t, make([]float32, 16))
	tileData = tileData[:len(tileData)/2]
	file, err := fstest.MapFS{
		"0.tif": &fstest.MapFile{Data: tileData},
	}.Open("0.tif")
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, file.Close())
	}()

	l := &geoTIFFLevel{
		file:                      file.(geoTIFFFile),
		tileWidth:                 4,
		tileLength:                4,
		tileOffsets:               []uint64{0, 0},
		tileByteCounts:            []uint64{uint64(len(tileData)), uint64(len(tileData) + 1)},
		smallestTileByteCount:     uint64(len(tileData)),
		tileByteCountUncompressed: 4 * 4 * 4,
		noData:                    -9999,
	}

	_, err = l.tileSamples(0)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, lod.ErrTileAbsent))

	_, err = l.tileSamples(1)
	assert.IsError(t, err, io.EOF)
}

func TestGeoTIFFSourceMissingFile(t *testing.T) {
	s, err := NewGeoTIFFSource(fstest.MapFS{})
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, s.Close())
	}()

	level := newTestGeoTIFFLevelSet(t).FirstLevel()
	tile := lod.PathTileFactory{}.CreateTile(lod.TileSector(level, 0, 0), level, 0, 0)
	_, err = s.Decode(t.Context(), tile)
	assert.IsError(t, err, lod.ErrTileAbsent)

	_, ok := s.missingFiles.Load(0)
	assert.True(t, ok)
}

func TestGeoTIFFSourceInvalidFile(t *testing.T) {
	s, err := NewGeoTIFFSource(fstest.MapFS{
		"1.tif": &fstest.MapFile{Data: []byte("not a tiff")},
	})
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, s.Close())
	}()

	level := newTestGeoTIFFLevelSet(t).LastLevel()
	tile := lod.PathTileFactory{}.CreateTile(lod.TileSector(level, 0, 0), level, 0, 0)
	_, err = s.Decode(t.Context(), tile)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, lod.ErrTileAbsent))
}
