// Package layer registers the datasets available to scoring and loads them on demand.
package layer

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vivabilite/internal/source"
	"github.com/sells-group/vivabilite/internal/spatial"
)

// Kind is the data kind of a layer.
type Kind string

// Layer kinds.
const (
	KindVector Kind = "vector"
	KindRaster Kind = "raster"
	KindTable  Kind = "table"
)

// memo caches the first successful load. Failures are not cached, so a later call retries.
type memo[T any] struct {
	mu  sync.Mutex
	val T
	ok  bool
}

func (m *memo[T]) get(load func() (T, error)) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ok {
		return m.val, nil
	}
	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}
	m.val, m.ok = v, true
	return v, nil
}

func (m *memo[T]) loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ok
}

func (m *memo[T]) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	m.val, m.ok = zero, false
}

// VectorLayer is a registered vector dataset.
type VectorLayer struct {
	Name        string
	Path        string
	Description string
	Format      source.Format
	SRID        int    // 0 uses the SRID declared by the file
	IDField     string // commune id attribute for the commune layer
	LayerName   string // GeoPackage table

	reader source.Reader
	data   memo[*spatial.FeatureCollection]
}

// Load reads the dataset once and returns the cached collection afterwards.
func (l *VectorLayer) Load(ctx context.Context) (*spatial.FeatureCollection, error) {
	return l.data.get(func() (*spatial.FeatureCollection, error) {
		start := time.Now()
		fc, err := l.reader.ReadVector(ctx, l.Path, source.VectorOptions{
			Format:  l.Format,
			SRID:    l.SRID,
			Layer:   l.LayerName,
			IDField: l.IDField,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "layer: load %s", l.Name)
		}
		zap.L().Info("layer: loaded vector",
			zap.String("layer", l.Name),
			zap.Int("features", fc.Len()),
			zap.Int("srid", fc.SRID),
			zap.Duration("elapsed", time.Since(start)),
		)
		return fc, nil
	})
}

// Loaded reports whether the dataset is cached.
func (l *VectorLayer) Loaded() bool {
	return l.data.loaded()
}

// RasterLayer is a registered raster dataset.
type RasterLayer struct {
	Name        string
	Path        string
	Description string
	Unit        string
	Format      source.Format
	SRID        int

	reader source.Reader
	data   memo[*spatial.Grid]
}

// Load reads the grid once and returns the cached grid afterwards.
func (l *RasterLayer) Load(ctx context.Context) (*spatial.Grid, error) {
	return l.data.get(func() (*spatial.Grid, error) {
		start := time.Now()
		g, err := l.reader.ReadRaster(ctx, l.Path, source.RasterOptions{Format: l.Format, SRID: l.SRID})
		if err != nil {
			return nil, eris.Wrapf(err, "layer: load %s", l.Name)
		}
		zap.L().Info("layer: loaded raster",
			zap.String("layer", l.Name),
			zap.Int("cols", g.Cols),
			zap.Int("rows", g.Rows),
			zap.Int("bands", g.NumBands()),
			zap.Duration("elapsed", time.Since(start)),
		)
		return g, nil
	})
}

// Loaded reports whether the grid is cached.
func (l *RasterLayer) Loaded() bool {
	return l.data.loaded()
}

// AttributeTable is a registered table keyed by commune id.
type AttributeTable struct {
	Name        string
	Path        string
	Description string
	Format      source.Format
	KeyColumn   string
	Sheet       string

	reader source.Reader
	data   memo[*source.Table]
}

// Load reads the table once and returns the cached table afterwards.
func (l *AttributeTable) Load(ctx context.Context) (*source.Table, error) {
	return l.data.get(func() (*source.Table, error) {
		t, err := l.reader.ReadTable(ctx, l.Path, source.TableOptions{
			Format:    l.Format,
			KeyColumn: l.KeyColumn,
			Sheet:     l.Sheet,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "layer: load %s", l.Name)
		}
		zap.L().Info("layer: loaded table",
			zap.String("layer", l.Name),
			zap.Int("rows", t.Len()),
			zap.String("key", t.KeyColumn),
		)
		return t, nil
	})
}

// Loaded reports whether the table is cached.
func (l *AttributeTable) Loaded() bool {
	return l.data.loaded()
}
