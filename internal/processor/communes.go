// Package processor turns raw layers into one value per commune: distances, raster samples,
// zonal statistics, point-grid aggregates and table columns. Every output is keyed by
// commune id and covers every commune, with missing values where nothing could be measured.
package processor

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/vivabilite/internal/failure"
	"github.com/sells-group/vivabilite/internal/spatial"
	"github.com/sells-group/vivabilite/internal/values"
)

// Commune is one commune prepared for spatial processing. Geometry, centroid and bounds are
// in the metric system (Lambert-93).
type Commune struct {
	ID       string
	Feature  spatial.Feature
	Geom     geom.T
	X, Y     float64
	Lon, Lat float64
	Bounds   spatial.Box
}

// Communes is the prepared commune set with a bounding-box index.
type Communes struct {
	Items []Commune
	byID  map[string]int
	index *spatial.GridIndex
}

// Prepare projects the commune layer to Lambert-93 and computes centroids and bounds. The
// commune id is read from idField, or Feature.ID when idField is empty. Features without id
// or geometry are skipped; duplicate ids keep the first feature.
func Prepare(fc *spatial.FeatureCollection, idField string, p *spatial.Projector) (*Communes, error) {
	c := &Communes{byID: make(map[string]int, fc.Len())}
	if fc == nil {
		c.index = spatial.NewGridIndex(nil)
		return c, nil
	}

	var skipped, dups int
	boxes := make([]spatial.Box, 0, fc.Len())
	for _, f := range fc.Features {
		id := f.ID
		if idField != "" {
			id = f.Prop(idField)
		}
		if id == "" || f.Geom == nil {
			skipped++
			continue
		}
		if _, ok := c.byID[id]; ok {
			dups++
			continue
		}

		g, err := p.Geometry(f.Geom, fc.SRID, spatial.Metric)
		if err != nil {
			return nil, eris.Wrapf(err, "processor: project commune %s", id)
		}
		x, y := spatial.Centroid(g)
		lon, lat, err := p.Point(x, y, spatial.Metric, spatial.WGS84)
		if err != nil {
			return nil, eris.Wrapf(err, "processor: centroid of commune %s", id)
		}

		b := spatial.BoundsOf(g)
		c.byID[id] = len(c.Items)
		c.Items = append(c.Items, Commune{
			ID:      id,
			Feature: f,
			Geom:    g,
			X:       x,
			Y:       y,
			Lon:     lon,
			Lat:     lat,
			Bounds:  b,
		})
		boxes = append(boxes, b)
	}
	c.index = spatial.NewGridIndex(boxes)

	if skipped > 0 || dups > 0 {
		zap.L().Debug("processor: commune features skipped",
			zap.Int("without_id_or_geometry", skipped),
			zap.Int("duplicate_ids", dups),
		)
	}
	return c, nil
}

// Len returns the number of communes.
func (c *Communes) Len() int {
	return len(c.Items)
}

// IDs returns the commune ids in layer order.
func (c *Communes) IDs() []string {
	out := make([]string, len(c.Items))
	for i, it := range c.Items {
		out[i] = it.ID
	}
	return out
}

// Get returns the commune with the given id.
func (c *Communes) Get(id string) (*Commune, bool) {
	i, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return &c.Items[i], true
}

// Locate returns the position of the commune containing the metric point (x, y).
func (c *Communes) Locate(x, y float64) (int, bool) {
	for _, i := range c.index.Query(x, y) {
		if spatial.Contains(c.Items[i].Geom, x, y) {
			return i, true
		}
	}
	return -1, false
}

// emptyColumn returns a column with a missing value for every commune.
func (c *Communes) emptyColumn() values.Column {
	out := make(values.Column, len(c.Items))
	for _, it := range c.Items {
		out[it.ID] = values.Missing()
	}
	return out
}

// FeatureColumn reads a numeric attribute of the commune layer itself.
func FeatureColumn(c *Communes, column string) values.Column {
	out := make(values.Column, len(c.Items))
	for _, it := range c.Items {
		out[it.ID] = it.Feature.Float(column)
	}
	return out
}

func requireFields(fc *spatial.FeatureCollection, fields []string) error {
	for _, f := range fields {
		if !fc.HasField(f) {
			return failure.New(failure.Configuration, eris.Errorf("processor: field %q not in layer", f))
		}
	}
	return nil
}
