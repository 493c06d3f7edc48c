// Package elevation answers elevation queries against multi-resolution tiled
// elevation data without ever blocking on data retrieval.
package elevation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/twpayne/go-lod"
	"github.com/twpayne/go-lod/lrucache"
	"github.com/twpayne/go-lod/retrieve"
)

const (
	DefaultTileCacheSize       = 200
	DefaultSampleCacheCapacity = 8 << 20 // 8MB.
	DefaultLoopBuffer          = 256

	// limitsProbeSize is the number of probe samples across and down a
	// sector used to choose the level for a limits query.
	limitsProbeSize = 8

	bytesPerTexel = 4
)

var ErrInvalidGrid = errors.New("invalid grid")

// A DecodeFunc returns the payload of a tile: one float32 sample per texel,
// row-major, bottom row first, with NaN for missing samples. It is called
// asynchronously and may block.
type DecodeFunc = retrieve.DecodeFunc[lod.Tile, []float32]

type retrievalResult = retrieve.Result[lod.Tile, []float32]

// A Coverage is a single tiled elevation data source. Queries never block:
// tiles that are not yet cached are retrieved asynchronously and queries fall
// back to coarser levels until they arrive. Completed retrievals are applied
// when the Coverage's Loop is drained, for example by calling
// ProcessCompletions once per frame.
type Coverage struct {
	levelSet                  *lod.LevelSet
	tileFactory               lod.TileFactory
	tileCacheSize             int
	sampleCacheCapacity       int64
	sampleCacheLowWater       int64
	maxSimultaneousRetrievals int
	executor                  retrieve.Executor
	pool                      *retrieve.Pool
	loop                      *retrieve.Loop
	logger                    *zap.Logger
	displayName               string
	trackAbsentTiles          bool
	enabled                   atomic.Bool

	tileCache *lru.Cache[lod.TileKey, lod.Tile]
	retriever *retrieve.Retriever[lod.Tile, []float32]

	mutex       sync.Mutex
	sampleCache *lrucache.Cache[lod.TileKey, []float32]
	absentTiles *roaring64.Bitmap
	timestamp   time.Time
}

// A CoverageOption sets an option on a Coverage.
type CoverageOption func(*Coverage)

// WithTileFactory sets the factory used to create tiles. The default is a
// lod.PathTileFactory with the default format.
func WithTileFactory(tileFactory lod.TileFactory) CoverageOption {
	return func(c *Coverage) {
		c.tileFactory = tileFactory
	}
}

// WithTileCacheSize sets the number of tiles in the tile metadata cache.
func WithTileCacheSize(tileCacheSize int) CoverageOption {
	return func(c *Coverage) {
		c.tileCacheSize = tileCacheSize
	}
}

// WithSampleCacheCapacity sets the capacity and low water mark, in bytes, of
// the sample cache. A lowWater of zero selects the default of 75% of capacity.
func WithSampleCacheCapacity(capacity, lowWater int64) CoverageOption {
	return func(c *Coverage) {
		c.sampleCacheCapacity = capacity
		c.sampleCacheLowWater = lowWater
	}
}

func WithMaxSimultaneousRetrievals(maxSimultaneousRetrievals int) CoverageOption {
	return func(c *Coverage) {
		c.maxSimultaneousRetrievals = maxSimultaneousRetrievals
	}
}

// WithExecutor sets the executor that runs retrievals. By default each
// Coverage owns a retrieve.Pool sized to its maximum number of simultaneous
// retrievals.
func WithExecutor(executor retrieve.Executor) CoverageOption {
	return func(c *Coverage) {
		c.executor = executor
	}
}

// WithLoop sets the loop on which completed retrievals are applied, allowing
// several coverages to share a single loop. Close runs the loop's actions
// while it waits for retrievals, so it must be called from the goroutine that
// drains the loop.
func WithLoop(loop *retrieve.Loop) CoverageOption {
	return func(c *Coverage) {
		c.loop = loop
	}
}

func WithLogger(logger *zap.Logger) CoverageOption {
	return func(c *Coverage) {
		c.logger = logger
	}
}

func WithDisplayName(displayName string) CoverageOption {
	return func(c *Coverage) {
		c.displayName = displayName
	}
}

// WithAbsentTileTracking sets whether tiles whose retrieval fails with
// lod.ErrTileAbsent or fs.ErrNotExist are remembered and never requested
// again. It is enabled by default.
func WithAbsentTileTracking(trackAbsentTiles bool) CoverageOption {
	return func(c *Coverage) {
		c.trackAbsentTiles = trackAbsentTiles
	}
}

// NewCoverage returns a new Coverage over levelSet whose tile payloads are
// produced by decode.
func NewCoverage(levelSet *lod.LevelSet, decode DecodeFunc, options ...CoverageOption) (*Coverage, error) {
	switch {
	case levelSet == nil:
		return nil, fmt.Errorf("%w: nil level set", lod.ErrInvalidLevelSet)
	case decode == nil:
		return nil, errors.New("nil decode func")
	}

	c := &Coverage{
		levelSet:                  levelSet,
		tileFactory:               lod.PathTileFactory{},
		tileCacheSize:             DefaultTileCacheSize,
		sampleCacheCapacity:       DefaultSampleCacheCapacity,
		maxSimultaneousRetrievals: retrieve.DefaultMaxSimultaneousRetrievals,
		logger:                    zap.NewNop(),
		trackAbsentTiles:          true,
		absentTiles:               roaring64.New(),
	}
	c.enabled.Store(true)
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	var err error
	c.tileCache, err = lru.New[lod.TileKey, lod.Tile](c.tileCacheSize)
	if err != nil {
		return nil, err
	}

	sampleCacheOptions := []lrucache.Option[lod.TileKey, []float32]{
		lrucache.WithEvictionListener(func(key lod.TileKey, value []float32, reason lrucache.EvictionReason) {
			if reason == lrucache.ReasonEvicted {
				sampleCacheEvictions.Inc()
			}
		}),
	}
	if c.sampleCacheLowWater != 0 {
		sampleCacheOptions = append(sampleCacheOptions, lrucache.WithLowWater[lod.TileKey, []float32](c.sampleCacheLowWater))
	}
	c.sampleCache, err = lrucache.New(c.sampleCacheCapacity, sampleCacheOptions...)
	if err != nil {
		return nil, err
	}
	for levelNumber := range levelSet.NumLevels() {
		level := levelSet.Level(levelNumber)
		if payloadSize := int64(bytesPerTexel * level.TileWidth * level.TileHeight); payloadSize > c.sampleCacheCapacity {
			return nil, fmt.Errorf("level %d: %w: %d byte payload, %d byte sample cache",
				levelNumber, lrucache.ErrEntryTooLarge, payloadSize, c.sampleCacheCapacity)
		}
	}

	if c.executor == nil {
		c.pool = retrieve.NewPool(c.maxSimultaneousRetrievals)
		c.executor = c.pool
	}
	if c.loop == nil {
		c.loop = retrieve.NewLoop(DefaultLoopBuffer)
	}
	if c.displayName != "" {
		c.logger = c.logger.With(zap.String("coverage", c.displayName))
	}
	c.retriever = retrieve.New(decode, c.executor, c.loop,
		retrieve.WithMaxSimultaneousRetrievals[lod.Tile, []float32](c.maxSimultaneousRetrievals),
		retrieve.WithLogger[lod.Tile, []float32](c.logger),
	)

	c.logger.Debug("new coverage",
		zap.Int("numLevels", levelSet.NumLevels()),
		zap.String("sampleCacheCapacity", humanize.IBytes(uint64(c.sampleCacheCapacity))),
		zap.Int("maxSimultaneousRetrievals", c.maxSimultaneousRetrievals),
	)

	return c, nil
}

func (c *Coverage) LevelSet() *lod.LevelSet { return c.levelSet }
func (c *Coverage) Sector() lod.Sector      { return c.levelSet.Sector() }
func (c *Coverage) Loop() *retrieve.Loop    { return c.loop }
func (c *Coverage) DisplayName() string     { return c.displayName }
func (c *Coverage) Enabled() bool           { return c.enabled.Load() }
func (c *Coverage) SetEnabled(enabled bool) { c.enabled.Store(enabled) }

// HasCoverage returns whether c's sector intersects sector.
func (c *Coverage) HasCoverage(sector lod.Sector) bool {
	return c.levelSet.Sector().Intersects(sector)
}

// Timestamp returns the time at which tile data last arrived.
func (c *Coverage) Timestamp() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.timestamp
}

// InFlight returns the number of tile retrievals in flight.
func (c *Coverage) InFlight() int {
	return c.retriever.InFlight()
}

// SampleCacheStats returns the sample cache's statistics.
func (c *Coverage) SampleCacheStats() lrucache.Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.sampleCache.Stats()
}

// ProcessCompletions applies all completed retrievals without blocking and
// returns the number applied.
func (c *Coverage) ProcessCompletions() int {
	return c.loop.Drain()
}

// Height returns the height at the given position, sampled at the level best
// matching radiansPerSample or the finest coarser level for which data is
// cached. It returns NaN if no data is available.
func (c *Coverage) Height(ctx context.Context, latitude, longitude, radiansPerSample float64) float64 {
	if !c.Enabled() || !c.levelSet.Sector().Contains(latitude, longitude) {
		return math.NaN()
	}
	block := c.assembleBlock(ctx, c.levelSet.LevelForResolution(radiansPerSample), func(block *tileBlock) {
		block.addPoint(latitude, longitude)
	})
	if block == nil {
		return math.NaN()
	}
	return block.sample(latitude, longitude)
}

// HeightGrid samples heights on a grid of width by height points spanning
// sector. result is row-major with the first row at sector's minimum
// latitude. Points for which no data is available are left unchanged. It
// returns whether any point was written.
func (c *Coverage) HeightGrid(ctx context.Context, sector lod.Sector, width, height int, result []float64) (bool, error) {
	if width <= 0 || height <= 0 || len(result) < width*height {
		return false, fmt.Errorf("%w: %dx%d with %d results", ErrInvalidGrid, width, height, len(result))
	}
	if !c.Enabled() {
		return false, nil
	}

	latitudes := lod.Linspace(sector.MinLatitude(), sector.MaxLatitude(), height)
	longitudes := lod.Linspace(sector.MinLongitude(), sector.MaxLongitude(), width)
	coverageSector := c.levelSet.Sector()
	radiansPerSample := lod.DegreesToRadians(max(
		sector.DeltaLatitude()/float64(max(height-1, 1)),
		sector.DeltaLongitude()/float64(max(width-1, 1)),
	))

	block := c.assembleBlock(ctx, c.levelSet.LevelForResolution(radiansPerSample), func(block *tileBlock) {
		for _, latitude := range latitudes {
			for _, longitude := range longitudes {
				if coverageSector.Contains(latitude, longitude) {
					block.addPoint(latitude, longitude)
				}
			}
		}
	})
	if block == nil {
		return false, nil
	}

	written := false
	for y, latitude := range latitudes {
		for x, longitude := range longitudes {
			if !coverageSector.Contains(latitude, longitude) {
				continue
			}
			if value := block.sample(latitude, longitude); !math.IsNaN(value) {
				result[y*width+x] = value
				written = true
			}
		}
	}
	return written, nil
}

// HeightLimits extends limits with the minimum and maximum heights of the
// texels intersecting sector. It returns whether any data was found.
func (c *Coverage) HeightLimits(ctx context.Context, sector lod.Sector, limits *Limits) bool {
	if !c.Enabled() {
		return false
	}
	intersection, ok := c.levelSet.Sector().Intersection(sector)
	if !ok {
		return false
	}

	radiansPerSample := lod.DegreesToRadians(max(intersection.DeltaLatitude(), intersection.DeltaLongitude()) / limitsProbeSize)
	block := c.assembleBlock(ctx, c.levelSet.LevelForResolution(radiansPerSample), func(block *tileBlock) {
		block.addSector(intersection)
	})
	if block == nil {
		return false
	}

	blockLimits := block.limits(intersection)
	if !blockLimits.Valid() {
		return false
	}
	limits.Union(blockLimits)
	return true
}

// Prefetch requests the retrieval of every tile of the level matching
// radiansPerSample that intersects sector. It returns the number of those
// tiles that are already cached or known to be absent, and the total number
// of tiles.
func (c *Coverage) Prefetch(ctx context.Context, sector lod.Sector, radiansPerSample float64) (ready, total int) {
	level := c.levelSet.LevelForResolution(radiansPerSample)
	tiles := lod.AssembleTiles(level, sector, lod.TileFactoryFunc(func(_ lod.Sector, level *lod.Level, row, column int) lod.Tile {
		return c.tile(level, row, column)
	}), nil)

	var missing []lod.Tile
	c.mutex.Lock()
	for _, tile := range tiles {
		key := tile.Key()
		if c.sampleCache.Contains(key) || c.absentTiles.Contains(uint64(key)) {
			ready++
			continue
		}
		missing = append(missing, tile)
	}
	c.mutex.Unlock()

	for _, tile := range missing {
		c.requestTile(ctx, tile)
	}
	return ready, len(tiles)
}

// Close waits for retrievals in flight to complete and releases c's caches.
// While waiting it runs the actions posted to c's loop, so retrievals blocked
// on a full loop can finish.
func (c *Coverage) Close() error {
	c.enabled.Store(false)
	var err error
	if c.pool != nil {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			defer cancel()
			err = c.pool.Close()
		}()
		_ = c.loop.Run(ctx)
		c.loop.Drain()
	}
	c.tileCache.Purge()
	c.mutex.Lock()
	c.sampleCache.Clear()
	c.mutex.Unlock()
	return err
}

// assembleBlock builds a tile block with add and populates it from the sample
// cache, starting at target and falling back to coarser levels. Only target
// and the first level may request retrievals of missing tiles. It returns nil
// if no level has every required tile cached.
func (c *Coverage) assembleBlock(ctx context.Context, target *lod.Level, add func(*tileBlock)) *tileBlock {
	for level := target; level != nil; level = level.PreviousLevel() {
		block := newTileBlock(newTexelGrid(level))
		add(block)
		if block.keys.IsEmpty() {
			return nil
		}
		missing, absent := c.populateBlock(block)
		if len(missing) == 0 && !absent {
			return block
		}
		if level == target || level.IsFirstLevel() {
			for _, key := range missing {
				c.requestTile(ctx, c.tile(level, key.Row(), key.Column()))
			}
		}
	}
	return nil
}

// populateBlock copies cached payloads into block. It returns the keys of
// missing tiles and whether any tile is known to be absent.
func (c *Coverage) populateBlock(block *tileBlock) (missing []lod.TileKey, absent bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	block.tiles(func(row, column int, key lod.TileKey) bool {
		if payload, ok := c.sampleCache.Get(key); ok {
			sampleCacheHits.Inc()
			block.payloads[key] = payload
			return true
		}
		if c.absentTiles.Contains(uint64(key)) {
			absentTileHits.Inc()
			absent = true
			return true
		}
		sampleCacheMisses.Inc()
		missing = append(missing, key)
		return true
	})
	return
}

// tile returns the tile at the given level, row, and column, using the tile
// metadata cache if possible.
func (c *Coverage) tile(level *lod.Level, row, column int) lod.Tile {
	key := lod.NewTileKey(level.LevelNumber, row, column)
	if tile, ok := c.tileCache.Get(key); ok {
		tileCacheHits.Inc()
		return tile
	}
	tileCacheMisses.Inc()
	tile := c.tileFactory.CreateTile(lod.TileSector(level, row, column), level, row, column)
	c.tileCache.Add(key, tile)
	return tile
}

// requestTile requests the asynchronous retrieval of tile.
func (c *Coverage) requestTile(ctx context.Context, tile lod.Tile) {
	if err := c.retriever.Retrieve(ctx, tile, c.handleRetrieval); err != nil {
		c.logger.Error("retrieve",
			zap.Stringer("tile", tile),
			zap.Error(err),
		)
	}
}

// handleRetrieval applies the result of a retrieval.
func (c *Coverage) handleRetrieval(result retrievalResult) {
	retrievals.WithLabelValues(result.Status.String()).Inc()
	tile := result.Key
	switch result.Status {
	case retrieve.StatusSucceeded:
		if expected := tile.Level.TileWidth * tile.Level.TileHeight; len(result.Value) != expected {
			c.logger.Warn("invalid payload",
				zap.Stringer("tile", tile),
				zap.Int("samples", len(result.Value)),
				zap.Int("expected", expected),
			)
			return
		}
		c.mutex.Lock()
		err := c.sampleCache.Put(tile.Key(), result.Value, int64(bytesPerTexel*len(result.Value)))
		if err == nil {
			c.timestamp = time.Now()
		}
		c.mutex.Unlock()
		if err != nil {
			c.logger.Warn("cache",
				zap.Stringer("tile", tile),
				zap.Error(err),
			)
		}
	case retrieve.StatusFailed:
		if c.trackAbsentTiles && (errors.Is(result.Err, lod.ErrTileAbsent) || errors.Is(result.Err, fs.ErrNotExist)) {
			c.mutex.Lock()
			c.absentTiles.Add(uint64(tile.Key()))
			c.mutex.Unlock()
			c.logger.Debug("absent",
				zap.Stringer("tile", tile),
			)
		}
	case retrieve.StatusRejected:
		c.logger.Debug("rejected",
			zap.Stringer("tile", tile),
		)
	}
}
