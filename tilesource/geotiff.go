package tilesource

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/image/tiff/lzw"

	"github.com/twpayne/go-lod"
)

const (
	DefaultGeoTIFFFileCacheSize  = 32
	DefaultGeoTIFFFilenameFormat = "%d.tif"

	noDataBits = 0xff7fffff
)

var (
	errShortRead = errors.New("short read")
	noData       = math.Float32frombits(noDataBits)
)

var (
	missingGeoTIFFFiles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lod_geotiff_missing_files_total",
		Help: "The total number of GeoTIFF level files found to be missing",
	})
	geoTIFFFileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lod_geotiff_file_cache_hits_total",
		Help: "The total number of hits on the GeoTIFF file cache",
	})
	geoTIFFFileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lod_geotiff_file_cache_misses_total",
		Help: "The total number of misses on the GeoTIFF file cache",
	})
	geoTIFFFileCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lod_geotiff_file_cache_evictions_total",
		Help: "The total number of evictions from the GeoTIFF file cache",
	})
	emptyGeoTIFFTiles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lod_geotiff_empty_tiles_total",
		Help: "The total number of empty GeoTIFF tiles skipped",
	})
)

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth                uint16    `tiff:"field,tag=256"`
	ImageLength               uint16    `tiff:"field,tag=257"`
	BitsPerSample             uint16    `tiff:"field,tag=258"`
	Compression               uint16    `tiff:"field,tag=259"`
	PhotometricInterpretation uint16    `tiff:"field,tag=262"`
	SamplesPerPixel           uint16    `tiff:"field,tag=277"`
	PlanarConfiguration       uint16    `tiff:"field,tag=284"`
	Predictor                 uint16    `tiff:"field,tag=317"`
	TileWidth                 uint16    `tiff:"field,tag=322"`
	TileLength                uint16    `tiff:"field,tag=323"`
	TileOffsets               []uint64  `tiff:"field,tag=324"`
	TileByteCounts            []uint64  `tiff:"field,tag=325"`
	SampleFormat              uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag        []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag          []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag        []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag        []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag         string    `tiff:"field,tag=34737"`
	GDALNoData                string    `tiff:"field,tag=42113"`
}

// A geoTIFFFile is the subset of fs.File needed to read a GeoTIFF.
type geoTIFFFile interface {
	fs.File
	io.ReaderAt
	io.Seeker
}

// A geoTIFFLevel is an open GeoTIFF file holding all of a level's texels. Its
// TIFF tiles must be the same size as the level's tiles and aligned with them.
type geoTIFFLevel struct {
	file                      geoTIFFFile
	originLongitude           float64
	originLatitude            float64
	pixelWidth                float64
	pixelHeight               float64
	tileWidth                 int
	tileLength                int
	tilesAcross               int
	tilesDown                 int
	tileOffsets               []uint64
	tileByteCounts            []uint64
	smallestTileByteCount     uint64
	tileByteCountUncompressed int
	noData                    float32

	emptyTileMutex sync.Mutex
	emptyTileBytes []byte
}

// A GeoTIFFSource reads tile payloads from one GeoTIFF file per level. Files
// must be tiled, LZW compressed, single band float32 rasters in geographic
// coordinates.
type GeoTIFFSource struct {
	options
	fsys           fs.FS
	filenameFormat string
	fileCacheSize  int

	mutex        sync.Mutex
	missingFiles sync.Map
	levels       *lru.Cache[int, *geoTIFFLevel]
}

// A GeoTIFFSourceOption sets an option on a GeoTIFFSource.
type GeoTIFFSourceOption func(*GeoTIFFSource)

// WithFilenameFormat sets the format of level filenames. Its single argument
// is the level number.
func WithFilenameFormat(filenameFormat string) GeoTIFFSourceOption {
	return func(s *GeoTIFFSource) {
		s.filenameFormat = filenameFormat
	}
}

// WithFileCacheSize sets the maximum number of open files.
func WithFileCacheSize(fileCacheSize int) GeoTIFFSourceOption {
	return func(s *GeoTIFFSource) {
		s.fileCacheSize = fileCacheSize
	}
}

func WithOptions(opts ...Option) GeoTIFFSourceOption {
	return func(s *GeoTIFFSource) {
		for _, opt := range opts {
			opt(&s.options)
		}
	}
}

// NewGeoTIFFSource returns a new GeoTIFFSource that reads files from fsys.
func NewGeoTIFFSource(fsys fs.FS, opts ...GeoTIFFSourceOption) (*GeoTIFFSource, error) {
	s := &GeoTIFFSource{
		options:        newOptions(),
		fsys:           fsys,
		filenameFormat: DefaultGeoTIFFFilenameFormat,
		fileCacheSize:  DefaultGeoTIFFFileCacheSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	s.levels, err = lru.NewWithEvict(s.fileCacheSize, func(levelNumber int, level *geoTIFFLevel) {
		geoTIFFFileCacheEvictions.Inc()
		_ = level.file.Close()
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Decode reads and decodes tile's payload.
func (s *GeoTIFFSource) Decode(ctx context.Context, tile lod.Tile) ([]float32, error) {
	level, err := s.level(tile.Level)
	if err != nil {
		return nil, err
	}
	tileIndex, ok := level.tileIndex(tile)
	if !ok {
		return nil, fmt.Errorf("%s: outside raster: %w", tile, lod.ErrTileAbsent)
	}
	samples, err := level.tileSamples(tileIndex)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tile, err)
	}
	return samples, nil
}

// Close closes all open files.
func (s *GeoTIFFSource) Close() error {
	s.levels.Purge()
	return nil
}

// level returns the open file for level, opening it if needed.
func (s *GeoTIFFSource) level(level *lod.Level) (*geoTIFFLevel, error) {
	if _, ok := s.missingFiles.Load(level.LevelNumber); ok {
		return nil, fmt.Errorf("level %d: %w", level.LevelNumber, lod.ErrTileAbsent)
	}

	if l, ok := s.levels.Get(level.LevelNumber); ok {
		geoTIFFFileCacheHits.Inc()
		return l, nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if l, ok := s.levels.Get(level.LevelNumber); ok {
		geoTIFFFileCacheHits.Inc()
		return l, nil
	}

	geoTIFFFileCacheMisses.Inc()

	filename := fmt.Sprintf(s.filenameFormat, level.LevelNumber)
	l, err := openGeoTIFFLevel(s.fsys, filename, level)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.missingFiles.Store(level.LevelNumber, struct{}{})
		missingGeoTIFFFiles.Inc()
		return nil, fmt.Errorf("%s: %w", filename, lod.ErrTileAbsent)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	s.logger.Info("open",
		zap.String("filename", filename),
		zap.Int("level", level.LevelNumber),
		zap.Int("tilesAcross", l.tilesAcross),
		zap.Int("tilesDown", l.tilesDown),
	)
	s.levels.Add(level.LevelNumber, l)
	return l, nil
}

func openGeoTIFFLevel(fsys fs.FS, filename string, level *lod.Level) (*geoTIFFLevel, error) {
	file, err := fsys.Open(filename)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			_ = file.Close()
		}
	}()

	f, isGeoTIFFFile := file.(geoTIFFFile)
	if !isGeoTIFFFile {
		return nil, fmt.Errorf("random access: %w", errors.ErrUnsupported)
	}

	tiffTIFF, err := tiff.Parse(f, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, err
	}
	if len(tiffTIFF.IFDs()) != 1 {
		return nil, fmt.Errorf("found %d IFDs, expected 1", len(tiffTIFF.IFDs()))
	}

	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, err
	}

	l, err := newGeoTIFFLevel(&ifd, level)
	if err != nil {
		return nil, err
	}
	l.file = f

	ok = true
	return l, nil
}

// newGeoTIFFLevel validates ifd against level.
func newGeoTIFFLevel(ifd *geoTIFFIFD, level *lod.Level) (*geoTIFFLevel, error) {
	if ifd.BitsPerSample != 32 ||
		ifd.Compression != 5 ||
		ifd.PhotometricInterpretation != 1 ||
		ifd.SamplesPerPixel != 1 ||
		ifd.PlanarConfiguration != 1 ||
		ifd.Predictor != 1 ||
		ifd.SampleFormat != 3 ||
		len(ifd.ModelPixelScaleTag) != 3 ||
		len(ifd.ModelTiepointTag) != 6 || ifd.ModelTiepointTag[0] != 0 || ifd.ModelTiepointTag[1] != 0 {
		return nil, errors.ErrUnsupported
	}

	if len(ifd.GeoKeyDirectoryTag) != 0 {
		geoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
		if err != nil {
			return nil, err
		}
		if modelType, ok := geoKeys.ModelType(); ok && modelType != ModelTypeGeographic {
			return nil, fmt.Errorf("model type %d: %w", modelType, errors.ErrUnsupported)
		}
	}

	if int(ifd.TileWidth) != level.TileWidth || int(ifd.TileLength) != level.TileHeight {
		return nil, fmt.Errorf("tile size %dx%d does not match level tile size %dx%d",
			ifd.TileWidth, ifd.TileLength, level.TileWidth, level.TileHeight)
	}
	pixelWidth, pixelHeight := ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1]
	texelWidth := level.TileDelta / float64(level.TileWidth)
	texelHeight := level.TileDelta / float64(level.TileHeight)
	if !approxEqual(pixelWidth, texelWidth) || !approxEqual(pixelHeight, texelHeight) {
		return nil, fmt.Errorf("pixel size %gx%g does not match level texel size %gx%g",
			pixelWidth, pixelHeight, texelWidth, texelHeight)
	}

	l := &geoTIFFLevel{
		originLongitude: ifd.ModelTiepointTag[3],
		originLatitude:  ifd.ModelTiepointTag[4],
		pixelWidth:      pixelWidth,
		pixelHeight:     pixelHeight,
		tileWidth:       int(ifd.TileWidth),
		tileLength:      int(ifd.TileLength),
		noData:          noData,
	}
	imageWidth, imageLength := int(ifd.ImageWidth), int(ifd.ImageLength)
	l.tilesAcross = (imageWidth + l.tileWidth - 1) / l.tileWidth
	l.tilesDown = (imageLength + l.tileLength - 1) / l.tileLength
	tilesPerImage := l.tilesAcross * l.tilesDown
	if len(ifd.TileByteCounts) != tilesPerImage || len(ifd.TileOffsets) != tilesPerImage {
		return nil, errors.New("incorrect number of tile byte counts or offsets")
	}
	l.tileOffsets = ifd.TileOffsets
	l.tileByteCounts = ifd.TileByteCounts
	l.smallestTileByteCount = ifd.TileByteCounts[0]
	for _, tileByteCount := range ifd.TileByteCounts[1:] {
		l.smallestTileByteCount = min(l.smallestTileByteCount, tileByteCount)
	}
	l.tileByteCountUncompressed = l.tileWidth * l.tileLength * int(ifd.BitsPerSample) / 8

	if noDataStr := strings.Trim(ifd.GDALNoData, " \x00"); noDataStr != "" {
		value, err := strconv.ParseFloat(noDataStr, 32)
		if err != nil {
			return nil, fmt.Errorf("GDAL_NODATA: %w", err)
		}
		l.noData = float32(value)
	}

	return l, nil
}

// tileIndex returns the index of the TIFF tile holding tile.
func (l *geoTIFFLevel) tileIndex(tile lod.Tile) (int, bool) {
	column := int(math.Round((tile.Sector.MinLongitude() - l.originLongitude) / l.pixelWidth / float64(l.tileWidth)))
	row := int(math.Round((l.originLatitude - tile.Sector.MaxLatitude()) / l.pixelHeight / float64(l.tileLength)))
	if column < 0 || l.tilesAcross <= column || row < 0 || l.tilesDown <= row {
		return 0, false
	}
	return column + l.tilesAcross*row, true
}

// tileSamples returns the decoded samples of the TIFF tile at tileIndex. Tiles
// that contain only no data return lod.ErrTileAbsent.
func (l *geoTIFFLevel) tileSamples(tileIndex int) ([]float32, error) {
	compressedData, err := l.compressedTileData(tileIndex)
	if err != nil {
		return nil, err
	}

	tileData, err := l.decompressTileData(compressedData)
	if err != nil {
		return nil, err
	}
	samples, empty := decodeFloat32Tile(tileData, l.tileWidth, l.tileLength, l.noData)

	// The smallest compressed tile is probably the empty tile. If it is, its
	// bytes identify empty tiles before they are decompressed.
	if empty {
		if len(compressedData) == int(l.smallestTileByteCount) {
			l.emptyTileMutex.Lock()
			l.emptyTileBytes = compressedData
			l.emptyTileMutex.Unlock()
		}
		return nil, lod.ErrTileAbsent
	}

	return samples, nil
}

// compressedTileData returns the compressed data of the TIFF tile at
// tileIndex.
func (l *geoTIFFLevel) compressedTileData(tileIndex int) ([]byte, error) {
	tileByteCount := l.tileByteCounts[tileIndex]
	compressedData := make([]byte, tileByteCount)
	n, err := l.file.ReadAt(compressedData, int64(l.tileOffsets[tileIndex]))
	switch {
	case n == int(tileByteCount):
	case err != nil:
		return nil, err
	default:
		return nil, errShortRead
	}

	l.emptyTileMutex.Lock()
	emptyTileBytes := l.emptyTileBytes
	l.emptyTileMutex.Unlock()
	if emptyTileBytes != nil && bytes.Equal(compressedData, emptyTileBytes) {
		emptyGeoTIFFTiles.Inc()
		return nil, lod.ErrTileAbsent
	}

	return compressedData, nil
}

func (l *geoTIFFLevel) decompressTileData(compressedData []byte) ([]byte, error) {
	tileData := make([]byte, l.tileByteCountUncompressed)
	r := lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
	defer r.Close()
	if _, err := io.ReadFull(r, tileData); err != nil {
		return nil, err
	}
	return tileData, nil
}

// decodeFloat32Tile decodes little-endian float32 samples stored top row
// first into samples stored bottom row first. Samples equal to noData become
// NaN. empty is true if every sample is missing.
func decodeFloat32Tile(tileData []byte, width, length int, noData float32) (samples []float32, empty bool) {
	samples = make([]float32, width*length)
	empty = true
	for row := range length {
		dst := samples[(length-1-row)*width : (length-row)*width]
		for column := range dst {
			offset := 4 * (row*width + column)
			sample := math.Float32frombits(binary.LittleEndian.Uint32(tileData[offset : offset+4]))
			if sample == noData || math.IsNaN(float64(sample)) {
				dst[column] = float32(math.NaN())
				continue
			}
			dst[column] = sample
			empty = false
		}
	}
	return samples, empty
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*max(math.Abs(a), math.Abs(b))
}
