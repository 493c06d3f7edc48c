// Package tilesource retrieves and decodes elevation tile payloads from blob
// buckets, SQLite databases, and GeoTIFF files.
//
// Every source has a Decode method suitable for use as an
// elevation.DecodeFunc. Decoded payloads contain one float32 sample per
// texel, row-major, bottom row first, with NaN for missing samples. Tiles
// that a source does not contain are reported with an error wrapping
// lod.ErrTileAbsent.
package tilesource

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/twpayne/go-lod"
)

// DefaultMissingValue is the value that marks missing samples in BIL data.
const DefaultMissingValue = math.MinInt16

var ErrInvalidPayload = errors.New("invalid payload")

// A PayloadFunc decodes the raw bytes stored for tile.
type PayloadFunc func(data []byte, tile lod.Tile) ([]float32, error)

type options struct {
	payloadFunc PayloadFunc
	logger      *zap.Logger
}

// An Option sets an option on a source.
type Option func(*options)

// WithPayloadFunc sets the function used to decode raw tile bytes. The default
// is BIL16(binary.LittleEndian, DefaultMissingValue).
func WithPayloadFunc(payloadFunc PayloadFunc) Option {
	return func(o *options) {
		o.payloadFunc = payloadFunc
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(opts ...Option) options {
	o := options{
		payloadFunc: BIL16(binary.LittleEndian, DefaultMissingValue),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// BIL16 returns a PayloadFunc that decodes band interleaved by line 16-bit
// signed integer samples.
func BIL16(byteOrder binary.ByteOrder, missing int16) PayloadFunc {
	return func(data []byte, tile lod.Tile) ([]float32, error) {
		return DecodeBIL16(data, tile.Level.TileWidth, tile.Level.TileHeight, byteOrder, missing)
	}
}

// DecodeBIL16 decodes width by height 16-bit signed integer samples stored
// row-major with the northernmost row first. The returned samples are
// bottom row first. Samples equal to missing are returned as NaN.
func DecodeBIL16(data []byte, width, height int, byteOrder binary.ByteOrder, missing int16) ([]float32, error) {
	if len(data) != 2*width*height {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrInvalidPayload, len(data), 2*width*height)
	}
	samples := make([]float32, width*height)
	for row := range height {
		src := data[2*row*width : 2*(row+1)*width]
		dst := samples[(height-1-row)*width : (height-row)*width]
		for column := range width {
			switch sample := int16(byteOrder.Uint16(src[2*column:])); sample {
			case missing:
				dst[column] = float32(math.NaN())
			default:
				dst[column] = float32(sample)
			}
		}
	}
	return samples, nil
}

// EncodeBIL16 encodes samples, which are bottom row first, as 16-bit signed
// integers with the northernmost row first. NaNs are encoded as missing.
func EncodeBIL16(samples []float32, width, height int, byteOrder binary.ByteOrder, missing int16) ([]byte, error) {
	if len(samples) != width*height {
		return nil, fmt.Errorf("%w: got %d samples, expected %d", ErrInvalidPayload, len(samples), width*height)
	}
	data := make([]byte, 2*width*height)
	for row := range height {
		src := samples[(height-1-row)*width : (height-row)*width]
		dst := data[2*row*width : 2*(row+1)*width]
		for column, sample := range src {
			value := missing
			if !math.IsNaN(float64(sample)) {
				value = int16(math.Round(float64(sample)))
			}
			byteOrder.PutUint16(dst[2*column:], uint16(value))
		}
	}
	return data, nil
}
