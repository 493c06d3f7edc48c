package elevation

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/twpayne/go-lod"
)

// A Source is an elevation data source that can be combined in a Model.
type Source interface {
	Enabled() bool
	HasCoverage(sector lod.Sector) bool
	Height(ctx context.Context, latitude, longitude, radiansPerSample float64) float64
	HeightGrid(ctx context.Context, sector lod.Sector, width, height int, result []float64) (bool, error)
	HeightLimits(ctx context.Context, sector lod.Sector, limits *Limits) bool
	ProcessCompletions() int
	Timestamp() time.Time
	Close() error
}

var _ Source = &Coverage{}

// A Model combines an ordered collection of Sources. Sources added later take
// precedence over sources added earlier.
type Model struct {
	mutex   sync.RWMutex
	sources []Source
}

// NewModel returns a new Model containing sources.
func NewModel(sources ...Source) *Model {
	return &Model{
		sources: slices.Clone(sources),
	}
}

// Add appends source to m.
func (m *Model) Add(source Source) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sources = append(m.sources, source)
}

// Remove removes source from m. It returns whether source was present.
func (m *Model) Remove(source Source) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	index := slices.Index(m.sources, source)
	if index == -1 {
		return false
	}
	m.sources = slices.Delete(m.sources, index, index+1)
	return true
}

// Sources returns m's sources in the order in which they were added.
func (m *Model) Sources() []Source {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return slices.Clone(m.sources)
}

func (m *Model) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sources)
}

// HasCoverage returns whether any source covers sector.
func (m *Model) HasCoverage(sector lod.Sector) bool {
	return lo.ContainsBy(m.enabledSources(), func(source Source) bool {
		return source.HasCoverage(sector)
	})
}

// Height returns the height at the given position from the most recently
// added source that has data there, or NaN.
func (m *Model) Height(ctx context.Context, latitude, longitude, radiansPerSample float64) float64 {
	sources := m.enabledSources()
	for i := len(sources) - 1; i >= 0; i-- {
		if height := sources[i].Height(ctx, latitude, longitude, radiansPerSample); !math.IsNaN(height) {
			return height
		}
	}
	return math.NaN()
}

// HeightGrid samples heights on a grid from every source in turn, so each
// point holds the value of the most recently added source with data there.
// It returns whether any source wrote a point.
func (m *Model) HeightGrid(ctx context.Context, sector lod.Sector, width, height int, result []float64) (bool, error) {
	written := false
	for _, source := range m.enabledSources() {
		ok, err := source.HeightGrid(ctx, sector, width, height, result)
		if err != nil {
			return written, err
		}
		written = written || ok
	}
	return written, nil
}

// HeightLimits extends limits with the union of the limits of every source
// with data in sector. It returns whether any source had data.
func (m *Model) HeightLimits(ctx context.Context, sector lod.Sector, limits *Limits) bool {
	found := false
	for _, source := range m.enabledSources() {
		if !source.HasCoverage(sector) {
			continue
		}
		if source.HeightLimits(ctx, sector, limits) {
			found = true
		}
	}
	return found
}

// ProcessCompletions applies completed retrievals of every source.
func (m *Model) ProcessCompletions() int {
	n := 0
	for _, source := range m.Sources() {
		n += source.ProcessCompletions()
	}
	return n
}

// Timestamp returns the latest timestamp of m's sources.
func (m *Model) Timestamp() time.Time {
	return lo.Reduce(m.Sources(), func(timestamp time.Time, source Source, _ int) time.Time {
		if sourceTimestamp := source.Timestamp(); sourceTimestamp.After(timestamp) {
			return sourceTimestamp
		}
		return timestamp
	}, time.Time{})
}

// Close closes every source.
func (m *Model) Close() error {
	var err error
	for _, source := range m.Sources() {
		err = multierr.Append(err, source.Close())
	}
	return err
}

func (m *Model) enabledSources() []Source {
	return lo.Filter(m.Sources(), func(source Source, _ int) bool {
		return source.Enabled()
	})
}
