package processor

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/vivabilite/internal/spatial"
	"github.com/sells-group/vivabilite/internal/values"
)

// DefaultSegmentMaxLength caps indexed reference segments, in meters.
const DefaultSegmentMaxLength = 1000.0

// Distance returns, for each commune, the distance in meters from its centroid to the nearest
// feature of ref, measured in Lambert-93. A centroid inside a reference polygon is at distance
// 0. An empty reference layer yields missing values.
func Distance(c *Communes, ref *spatial.FeatureCollection, p *spatial.Projector, segmentMaxLength float64) (values.Column, error) {
	if segmentMaxLength <= 0 {
		segmentMaxLength = DefaultSegmentMaxLength
	}
	if ref.Len() == 0 {
		return c.emptyColumn(), nil
	}

	geoms := make([]geom.T, 0, ref.Len())
	var polys []geom.T
	var boxes []spatial.Box
	for _, f := range ref.Features {
		if f.Geom == nil {
			continue
		}
		g, err := p.Geometry(f.Geom, ref.SRID, spatial.Metric)
		if err != nil {
			return nil, eris.Wrap(err, "processor: project reference layer")
		}
		geoms = append(geoms, g)
		if spatial.IsPolygonal(g) {
			polys = append(polys, g)
			boxes = append(boxes, spatial.BoundsOf(g))
		}
	}

	segments := spatial.NewSegmentIndex(geoms, segmentMaxLength)
	inside := spatial.NewGridIndex(boxes)

	out := make(values.Column, len(c.Items))
	for _, it := range c.Items {
		if within(inside, polys, it.X, it.Y) {
			out[it.ID] = values.Of(0)
			continue
		}
		d, _, ok := segments.Nearest(it.X, it.Y)
		if !ok {
			out[it.ID] = values.Missing()
			continue
		}
		out[it.ID] = values.Of(d)
	}
	return out, nil
}

func within(idx *spatial.GridIndex, polys []geom.T, x, y float64) bool {
	for _, i := range idx.Query(x, y) {
		if spatial.Contains(polys[i], x, y) {
			return true
		}
	}
	return false
}
