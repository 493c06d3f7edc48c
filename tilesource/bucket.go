package tilesource

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/twpayne/go-lod"
)

// A BucketSource reads tile payloads from a blob bucket. Each tile's Source is
// the key of its blob.
type BucketSource struct {
	options
	bucket *blob.Bucket
}

// NewBucketSource returns a new BucketSource that reads from bucket.
func NewBucketSource(bucket *blob.Bucket, opts ...Option) *BucketSource {
	return &BucketSource{
		options: newOptions(opts...),
		bucket:  bucket,
	}
}

// OpenBucketSource opens the bucket at bucketURL, for example
// file:///var/lib/tiles or s3://bucket?region=us-east-1, and returns a new
// BucketSource that reads from it.
func OpenBucketSource(ctx context.Context, bucketURL string, opts ...Option) (*BucketSource, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return NewBucketSource(bucket, opts...), nil
}

// Decode reads and decodes tile's payload.
func (s *BucketSource) Decode(ctx context.Context, tile lod.Tile) ([]float32, error) {
	data, err := s.bucket.ReadAll(ctx, tile.Source)
	switch {
	case gcerrors.Code(err) == gcerrors.NotFound:
		return nil, fmt.Errorf("%s: %w", tile.Source, lod.ErrTileAbsent)
	case err != nil:
		return nil, err
	}
	s.logger.Debug("read",
		zap.Stringer("tile", tile),
		zap.String("key", tile.Source),
		zap.Int("bytes", len(data)),
	)
	return s.payloadFunc(data, tile)
}

// Put writes data as tile's payload.
func (s *BucketSource) Put(ctx context.Context, tile lod.Tile, data []byte) error {
	return s.bucket.WriteAll(ctx, tile.Source, data, nil)
}

// Close closes the underlying bucket.
func (s *BucketSource) Close() error {
	return s.bucket.Close()
}
