package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/twpayne/go-proj/v10"
	"go.uber.org/zap"

	"github.com/twpayne/go-lod"
	"github.com/twpayne/go-lod/elevation"
)

var errTimeout = errors.New("timed out waiting for tiles")

type sectorArgs struct {
	MinLatitude  float64 `arg:"" help:"Minimum latitude."`
	MaxLatitude  float64 `arg:"" help:"Maximum latitude."`
	MinLongitude float64 `arg:"" help:"Minimum longitude."`
	MaxLongitude float64 `arg:"" help:"Maximum longitude."`
}

func (a sectorArgs) sector() lod.Sector {
	return lod.NewSector(a.MinLatitude, a.MaxLatitude, a.MinLongitude, a.MaxLongitude)
}

type HeightCmd struct {
	X          float64 `arg:"" help:"Latitude, or first coordinate in --crs."`
	Y          float64 `arg:"" help:"Longitude, or second coordinate in --crs."`
	CRS        string  `help:"CRS of the coordinates, in its authority axis order, for example EPSG:3035."`
	Resolution float64 `default:"0" help:"Resolution in degrees per sample. Zero means the finest level."`
}

func (c *HeightCmd) Run(ctx *runContext) error {
	latitude, longitude, err := c.latLon()
	if err != nil {
		return err
	}
	radiansPerSample := lod.DegreesToRadians(c.Resolution)

	height := math.NaN()
	err = poll(ctx, func(queryCtx context.Context) bool {
		height = ctx.coverage.Height(queryCtx, latitude, longitude, radiansPerSample)
		return !math.IsNaN(height)
	})
	if err != nil && !math.IsNaN(height) {
		ctx.logger.Warn("height", zap.Error(err))
	} else if err != nil {
		return err
	}
	fmt.Println(height)
	return nil
}

// latLon returns c's coordinates transformed to EPSG:4326.
func (c *HeightCmd) latLon() (float64, float64, error) {
	if c.CRS == "" {
		return c.X, c.Y, nil
	}
	pj, err := proj.NewCRSToCRS(c.CRS, "EPSG:4326", nil)
	if err != nil {
		return 0, 0, err
	}
	defer pj.Destroy()
	coord, err := pj.Forward(proj.NewCoord(c.X, c.Y, 0, 0))
	if err != nil {
		return 0, 0, err
	}
	return coord.X(), coord.Y(), nil
}

type GridCmd struct {
	sectorArgs
	Width  int `default:"8" help:"Samples across."`
	Height int `default:"8" help:"Samples down."`
}

func (c *GridCmd) Run(ctx *runContext) error {
	result := make([]float64, c.Width*c.Height)
	for i := range result {
		result[i] = math.NaN()
	}
	var gridErr error
	err := poll(ctx, func(queryCtx context.Context) bool {
		var ok bool
		ok, gridErr = ctx.coverage.HeightGrid(queryCtx, c.sector(), c.Width, c.Height, result)
		return ok || gridErr != nil
	})
	switch {
	case gridErr != nil:
		return gridErr
	case err != nil:
		return err
	}

	// Print northernmost row first.
	for y := c.Height - 1; y >= 0; y-- {
		fields := make([]string, c.Width)
		for x := range c.Width {
			fields[x] = fmt.Sprintf("%.1f", result[y*c.Width+x])
		}
		fmt.Println(strings.Join(fields, "\t"))
	}
	return nil
}

type LimitsCmd struct {
	sectorArgs
}

func (c *LimitsCmd) Run(ctx *runContext) error {
	var limits elevation.Limits
	err := poll(ctx, func(queryCtx context.Context) bool {
		limits = elevation.NewLimits()
		return ctx.coverage.HeightLimits(queryCtx, c.sector(), &limits)
	})
	if err != nil {
		return err
	}
	fmt.Println(limits.Min, limits.Max)
	return nil
}

type PrefetchCmd struct {
	sectorArgs
	Resolution float64 `default:"0" help:"Resolution in degrees per sample. Zero means the finest level."`
}

func (c *PrefetchCmd) Run(ctx *runContext) error {
	start := time.Now()
	radiansPerSample := lod.DegreesToRadians(c.Resolution)
	var bar *progressbar.ProgressBar
	err := poll(ctx, func(queryCtx context.Context) bool {
		ready, total := ctx.coverage.Prefetch(queryCtx, c.sector(), radiansPerSample)
		if bar == nil {
			bar = progressbar.Default(int64(total))
		}
		_ = bar.Set(ready)
		return ready == total
	})
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}
	stats := ctx.coverage.SampleCacheStats()
	ctx.logger.Info("prefetch",
		zap.Duration("duration", time.Since(start)),
		zap.Uint64("misses", stats.Misses),
		zap.Uint64("evictions", stats.Evictions),
		zap.String("sampleCacheCapacity", humanize.IBytes(uint64(cli.SampleCacheCapacity))),
	)
	return nil
}

type TilesCmd struct {
	sectorArgs
	Resolution float64 `default:"0" help:"Resolution in degrees per sample. Zero means the finest level."`
}

func (c *TilesCmd) Run(ctx *runContext) error {
	level := ctx.levelSet.LevelForResolution(lod.DegreesToRadians(c.Resolution))
	tiles := lod.AssembleTiles(level, c.sector(), lod.PathTileFactory{Format: cli.PathFormat}, nil)
	for _, tile := range tiles {
		fmt.Printf("%s\t%s\t%g,%g,%g,%g\n", tile, tile.Source,
			tile.Sector.MinLatitude(), tile.Sector.MaxLatitude(),
			tile.Sector.MinLongitude(), tile.Sector.MaxLongitude())
	}
	ctx.logger.Info("tiles",
		zap.Int("level", level.LevelNumber),
		zap.Int("count", len(tiles)),
		zap.String("size", humanize.IBytes(uint64(4*len(tiles)*level.TileWidth*level.TileHeight))),
	)
	return nil
}

// poll calls query once per tick, draining completed retrievals between
// calls, until query returns true and no retrievals are outstanding, or the
// timeout expires.
func poll(ctx *runContext, query func(context.Context) bool) error {
	timeoutCtx, cancel := context.WithTimeout(context.Background(), cli.Timeout)
	defer cancel()

	ticker := time.NewTicker(cli.Tick)
	defer ticker.Stop()

	for {
		ok := query(timeoutCtx)
		if ok && ctx.coverage.InFlight() == 0 && ctx.coverage.Loop().Pending() == 0 {
			return nil
		}
		select {
		case <-timeoutCtx.Done():
			return errTimeout
		case <-ticker.C:
			if n := ctx.coverage.ProcessCompletions(); n > 0 {
				ctx.logger.Debug("completions", zap.Int("n", n))
			}
		}
	}
}

func byteOrder(name string) binary.ByteOrder {
	if name == "big" {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
