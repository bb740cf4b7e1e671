package processor

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vivabilite/internal/spatial"
	"github.com/sells-group/vivabilite/internal/values"
)

// SamplePoint returns the value of the raster cell containing each commune centroid
// (nearest-neighbour sampling). Centroids outside the grid or on nodata cells are missing.
func SamplePoint(c *Communes, g *spatial.Grid, band int, p *spatial.Projector) (values.Column, error) {
	data, err := g.Band(bandOrFirst(band))
	if err != nil {
		return nil, eris.Wrap(err, "processor: point sample")
	}

	out := make(values.Column, len(c.Items))
	hits := 0
	for _, it := range c.Items {
		x, y, err := p.Point(it.X, it.Y, spatial.Metric, g.SRID)
		if err != nil {
			return nil, eris.Wrap(err, "processor: project centroid to raster")
		}
		col, row, ok := g.Cell(x, y)
		if !ok {
			out[it.ID] = values.Missing()
			continue
		}
		hits++
		out[it.ID] = g.Value(data, col, row)
	}
	warnOutside("point sample", g, len(c.Items), hits)
	return out, nil
}

// Zonal reduces, for each commune, the raster cells whose centers fall inside the commune
// polygon. Only cells within the polygon's bounding box are visited. Communes covering no
// valid cell are missing.
func Zonal(c *Communes, g *spatial.Grid, band int, stat values.Stat, p *spatial.Projector) (values.Column, error) {
	data, err := g.Band(bandOrFirst(band))
	if err != nil {
		return nil, eris.Wrap(err, "processor: zonal")
	}
	if stat == "" {
		stat = values.Mean
	}

	out := make(values.Column, len(c.Items))
	var cells []float64
	hits := 0
	for _, it := range c.Items {
		geomInGrid, err := p.Geometry(it.Geom, spatial.Metric, g.SRID)
		if err != nil {
			return nil, eris.Wrap(err, "processor: project commune to raster")
		}

		cells = cells[:0]
		c0, r0, c1, r1, ok := cellWindow(g, spatial.BoundsOf(geomInGrid))
		if ok {
			hits++
			for row := r0; row <= r1; row++ {
				for col := c0; col <= c1; col++ {
					x, y := g.Center(col, row)
					if !spatial.Contains(geomInGrid, x, y) {
						continue
					}
					if v := g.Value(data, col, row); v.Valid {
						cells = append(cells, v.Value)
					}
				}
			}
		}

		if len(cells) == 0 {
			out[it.ID] = values.Missing()
			continue
		}
		out[it.ID] = stat.Reduce(cells)
	}
	warnOutside("zonal", g, len(c.Items), hits)
	return out, nil
}

// warnOutside reports a grid that no commune reaches, usually a wrong SRID.
func warnOutside(op string, g *spatial.Grid, communes, hits int) {
	if communes == 0 || hits > 0 {
		return
	}
	ext := g.Extent()
	zap.L().Warn("processor: raster does not cover any commune",
		zap.String("op", op),
		zap.Int("srid", g.SRID),
		zap.Float64s("extent", []float64{ext.MinX, ext.MinY, ext.MaxX, ext.MaxY}),
		zap.Int("communes", communes),
	)
}

// cellWindow returns the inclusive column/row range of cells overlapping b.
func cellWindow(g *spatial.Grid, b spatial.Box) (c0, r0, c1, r1 int, ok bool) {
	if !g.Extent().Intersects(b) {
		return 0, 0, 0, 0, false
	}
	c0 = max(0, int(math.Floor((b.MinX-g.OriginX)/g.CellWidth)))
	c1 = min(g.Cols-1, int(math.Floor((b.MaxX-g.OriginX)/g.CellWidth)))
	r0 = max(0, int(math.Floor((g.OriginY-b.MaxY)/g.CellHeight)))
	r1 = min(g.Rows-1, int(math.Floor((g.OriginY-b.MinY)/g.CellHeight)))
	return c0, r0, c1, r1, c0 <= c1 && r0 <= r1
}

func bandOrFirst(b int) int {
	if b <= 0 {
		return 1
	}
	return b
}
