package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/twpayne/go-lod"
	"github.com/twpayne/go-lod/elevation"
	"github.com/twpayne/go-lod/internal/logger"
	"github.com/twpayne/go-lod/tilesource"
)

var cli struct {
	Source     string `enum:"bucket,sqlite,geotiff" default:"bucket" env:"LOD_SOURCE" help:"Tile source: bucket, sqlite, or geotiff."`
	URL        string `required:"" env:"LOD_URL" help:"Bucket URL, SQLite database URI, or GeoTIFF directory."`
	PathFormat string `default:"${defaultPathFormat}" env:"LOD_PATH_FORMAT" help:"Bucket key format, given level, row, and column."`

	Sector          []float64 `default:"-90,90,-180,180" sep:"," env:"LOD_SECTOR" help:"Level set sector: min lat, max lat, min lon, max lon."`
	FirstLevelDelta float64   `default:"36" env:"LOD_FIRST_LEVEL_DELTA" help:"Tile span of the first level in degrees."`
	NumLevels       int       `default:"8" env:"LOD_NUM_LEVELS" help:"Number of levels."`
	TileWidth       int       `default:"150" env:"LOD_TILE_WIDTH" help:"Texels across each tile."`
	TileHeight      int       `default:"150" env:"LOD_TILE_HEIGHT" help:"Texels down each tile."`
	ByteOrder       string    `enum:"little,big" default:"little" env:"LOD_BYTE_ORDER" help:"Byte order of BIL payloads."`

	TileCacheSize             int   `default:"${defaultTileCacheSize}" help:"Tile metadata cache entries."`
	SampleCacheCapacity       int64 `default:"${defaultSampleCacheCapacity}" help:"Sample cache capacity in bytes."`
	SampleCacheLowWater       int64 `help:"Sample cache low water in bytes. Default is three quarters of the capacity."`
	MaxSimultaneousRetrievals int   `default:"4" env:"LOD_MAX_SIMULTANEOUS_RETRIEVALS" help:"Maximum concurrent tile retrievals."`

	MetricsAddr string        `env:"LOD_METRICS_ADDR" help:"Address to serve Prometheus metrics on, for example :9090."`
	LogLevel    string        `default:"info" env:"LOD_LOG_LEVEL" help:"Log level."`
	LogEncoding string        `enum:"json,console" default:"console" help:"Log encoding."`
	Timeout     time.Duration `default:"30s" help:"Maximum time to wait for tiles."`
	Tick        time.Duration `default:"20ms" help:"Interval between query retries."`

	Height   HeightCmd   `cmd:"" help:"Print the height at a point."`
	Grid     GridCmd     `cmd:"" help:"Print a grid of heights over a sector."`
	Limits   LimitsCmd   `cmd:"" help:"Print the minimum and maximum height over a sector."`
	Prefetch PrefetchCmd `cmd:"" help:"Retrieve every tile needed for a sector at a resolution."`
	Tiles    TilesCmd    `cmd:"" help:"List the tiles covering a sector at a resolution."`
}

type runContext struct {
	logger   *zap.Logger
	levelSet *lod.LevelSet
	coverage *elevation.Coverage
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Description("Query tiled multi-resolution elevation data."),
		kong.ShortUsageOnError(),
		kong.Vars{
			"defaultPathFormat":          lod.DefaultPathFormat,
			"defaultTileCacheSize":       strconv.Itoa(elevation.DefaultTileCacheSize),
			"defaultSampleCacheCapacity": strconv.Itoa(elevation.DefaultSampleCacheCapacity),
		},
	)

	log, err := logger.New(cli.LogLevel, cli.LogEncoding)
	ctx.FatalIfErrorf(err)
	defer log.Sync() //nolint:errcheck

	if cli.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cli.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics", zap.Error(err))
			}
		}()
	}

	runCtx, closeFunc, err := newRunContext(context.Background(), log)
	ctx.FatalIfErrorf(err)

	err = ctx.Run(runCtx)
	if closeErr := closeFunc(); closeErr != nil {
		log.Warn("close", zap.Error(closeErr))
	}
	ctx.FatalIfErrorf(err)
}

// newRunContext builds the level set, tile source, and coverage described by
// the command line flags.
func newRunContext(ctx context.Context, log *zap.Logger) (*runContext, func() error, error) {
	if len(cli.Sector) != 4 {
		return nil, nil, errors.New("sector: expected four values")
	}
	sector := lod.NewSector(cli.Sector[0], cli.Sector[1], cli.Sector[2], cli.Sector[3])
	levelSet, err := lod.NewLevelSet(sector, cli.FirstLevelDelta, cli.NumLevels, cli.TileWidth, cli.TileHeight)
	if err != nil {
		return nil, nil, err
	}

	decode, closeSource, err := openSource(ctx, log)
	if err != nil {
		return nil, nil, err
	}

	coverage, err := elevation.NewCoverage(levelSet, decode,
		elevation.WithTileFactory(lod.PathTileFactory{Format: cli.PathFormat}),
		elevation.WithTileCacheSize(cli.TileCacheSize),
		elevation.WithSampleCacheCapacity(cli.SampleCacheCapacity, cli.SampleCacheLowWater),
		elevation.WithMaxSimultaneousRetrievals(cli.MaxSimultaneousRetrievals),
		elevation.WithLogger(log),
		elevation.WithDisplayName(cli.URL),
	)
	if err != nil {
		_ = closeSource()
		return nil, nil, err
	}

	closeFunc := func() error {
		return multierr.Append(coverage.Close(), closeSource())
	}
	return &runContext{
		logger:   log,
		levelSet: levelSet,
		coverage: coverage,
	}, closeFunc, nil
}

func openSource(ctx context.Context, log *zap.Logger) (elevation.DecodeFunc, func() error, error) {
	payloadFunc := tilesource.BIL16(byteOrder(cli.ByteOrder), tilesource.DefaultMissingValue)
	options := []tilesource.Option{
		tilesource.WithPayloadFunc(payloadFunc),
		tilesource.WithLogger(log),
	}
	switch cli.Source {
	case "sqlite":
		source, err := tilesource.OpenSQLiteSource(ctx, cli.URL, options...)
		if err != nil {
			return nil, nil, err
		}
		return source.Decode, source.Close, nil
	case "geotiff":
		source, err := tilesource.NewGeoTIFFSource(os.DirFS(cli.URL),
			tilesource.WithOptions(tilesource.WithLogger(log)),
		)
		if err != nil {
			return nil, nil, err
		}
		return source.Decode, source.Close, nil
	default:
		source, err := tilesource.OpenBucketSource(ctx, cli.URL, options...)
		if err != nil {
			return nil, nil, err
		}
		return source.Decode, source.Close, nil
	}
}
