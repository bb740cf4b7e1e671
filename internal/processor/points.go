package processor

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/vivabilite/internal/spatial"
	"github.com/sells-group/vivabilite/internal/values"
)

// AggregatePoints joins each point of a point grid to the commune containing it and reduces
// the numeric fields per commune. Non-point features are joined by their centroid. Communes
// containing no point, or no valid value for a field, are missing for that field.
func AggregatePoints(c *Communes, points *spatial.FeatureCollection, fields []string, agg values.Stat, p *spatial.Projector) (map[string]values.Column, error) {
	if agg == "" {
		agg = values.Mean
	}
	if points.Len() > 0 {
		if err := requireFields(points, fields); err != nil {
			return nil, err
		}
	}

	// samples[field][commune position]
	samples := make([][][]float64, len(fields))
	for i := range samples {
		samples[i] = make([][]float64, len(c.Items))
	}

	var matched int
	for _, f := range points.Features {
		if f.Geom == nil {
			continue
		}
		x, y := spatial.Centroid(f.Geom)
		mx, my, err := p.Point(x, y, points.SRID, spatial.Metric)
		if err != nil {
			return nil, eris.Wrap(err, "processor: project point grid")
		}
		pos, ok := c.Locate(mx, my)
		if !ok {
			continue
		}
		matched++
		for i, field := range fields {
			if v := f.Float(field); v.Valid {
				samples[i][pos] = append(samples[i][pos], v.Value)
			}
		}
	}

	out := make(map[string]values.Column, len(fields))
	for i, field := range fields {
		col := make(values.Column, len(c.Items))
		for pos, it := range c.Items {
			vs := samples[i][pos]
			if len(vs) == 0 {
				col[it.ID] = values.Missing()
				continue
			}
			col[it.ID] = agg.Reduce(vs)
		}
		out[field] = col
	}
	return out, nil
}
