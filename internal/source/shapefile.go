package source

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/vivabilite/internal/failure"
	"github.com/sells-group/vivabilite/internal/spatial"
)

// shapeReader is the part of the go-shp API shared by plain and zipped shapefiles.
type shapeReader interface {
	Next() bool
	Shape() (int, shp.Shape)
	Attribute(n int) string
	Fields() []shp.Field
	Err() error
	Close() error
}

// ReadShapefile reads a .shp (or a .zip holding a single shapefile) into a feature collection.
// The SRID comes from opts, then from the .prj sidecar, then defaults to unknown (0).
func ReadShapefile(path string, opts VectorOptions) (*spatial.FeatureCollection, error) {
	var (
		reader shapeReader
		err    error
	)
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		reader, err = shp.OpenZip(path)
	} else {
		reader, err = shp.Open(path)
	}
	if err != nil {
		return nil, failure.New(failure.UnsupportedFormat, eris.Wrapf(err, "source: open shapefile %s", path))
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	fc := &spatial.FeatureCollection{SRID: opts.SRID, Fields: names}
	if fc.SRID == 0 {
		fc.SRID = prjSRID(path)
	}

	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()

		g := shapeGeometry(shape)
		if g == nil {
			skipped++
			continue
		}

		props := make(map[string]string, len(names))
		for i, name := range names {
			props[name] = cleanAttr(reader.Attribute(i))
		}

		f := spatial.Feature{Geom: g, Props: props}
		if opts.IDField != "" {
			f.ID = f.Prop(opts.IDField)
		} else {
			f.ID = strconv.Itoa(n)
		}
		fc.Features = append(fc.Features, f)
	}
	if err := reader.Err(); err != nil {
		return nil, failure.New(failure.UnsupportedFormat, eris.Wrapf(err, "source: read shapefile %s", path))
	}

	if skipped > 0 {
		zap.L().Debug("source: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return fc, nil
}

// prjSRID recognises the two systems used by French datasets from the .prj sidecar.
func prjSRID(path string) int {
	b, err := os.ReadFile(strings.TrimSuffix(path, filepath.Ext(path)) + ".prj")
	if err != nil {
		return 0
	}
	wkt := strings.ToUpper(string(b))
	switch {
	case strings.Contains(wkt, "LAMBERT_93"), strings.Contains(wkt, "LAMBERT-93"),
		strings.Contains(wkt, "LAMBERT_CONFORMAL_CONIC") && strings.Contains(wkt, "RGF"):
		return spatial.Lambert93
	case strings.HasPrefix(strings.TrimSpace(wkt), "GEOGCS"):
		return spatial.WGS84
	default:
		return 0
	}
}

// shapeGeometry converts a go-shp shape. Returns nil for null or unsupported shapes.
func shapeGeometry(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointZ:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointM:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.MultiPoint:
		if len(s.Points) == 0 {
			return nil
		}
		return geom.NewMultiPointFlat(geom.XY, flatPoints(s.Points))
	case *shp.PolyLine:
		return lineParts(s.Parts, s.Points)
	case *shp.PolyLineZ:
		return lineParts(s.Parts, s.Points)
	case *shp.Polygon:
		return ringParts(s.Parts, s.Points)
	case *shp.PolygonZ:
		return ringParts(s.Parts, s.Points)
	default:
		return nil
	}
}

// partRanges splits a point array into [start, end) ranges from the part offsets.
func partRanges(parts []int32, n int) [][2]int {
	out := make([][2]int, 0, len(parts))
	for i, start := range parts {
		end := n
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) < 0 || int(start) >= end || end > n {
			continue
		}
		out = append(out, [2]int{int(start), end})
	}
	return out
}

func lineParts(parts []int32, points []shp.Point) geom.T {
	mls := geom.NewMultiLineString(geom.XY)
	for _, r := range partRanges(parts, len(points)) {
		if r[1]-r[0] < 2 {
			continue
		}
		ls := geom.NewLineStringFlat(geom.XY, flatPoints(points[r[0]:r[1]]))
		if err := mls.Push(ls); err != nil {
			zap.L().Debug("source: skipping malformed linestring part", zap.Error(err))
		}
	}
	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

// ringParts builds a multipolygon. Shapefile outer rings are clockwise and holes
// counter-clockwise; each hole is attached to the outer ring containing it.
func ringParts(parts []int32, points []shp.Point) geom.T {
	var polys [][][]float64
	var holes [][]float64

	for _, r := range partRanges(parts, len(points)) {
		if r[1]-r[0] < 4 {
			continue
		}
		ring := flatPoints(points[r[0]:r[1]])
		if spatial.SignedArea(ring, 2) <= 0 {
			polys = append(polys, [][]float64{ring})
		} else {
			holes = append(holes, ring)
		}
	}

	// Rings all wound the "wrong" way: treat them as outer rings.
	if len(polys) == 0 {
		for _, h := range holes {
			polys = append(polys, [][]float64{h})
		}
		holes = nil
	}

	for _, h := range holes {
		target := len(polys) - 1
		for i, p := range polys {
			outer := geom.NewPolygonFlat(geom.XY, p[0], []int{len(p[0])})
			if spatial.Contains(outer, h[0], h[1]) {
				target = i
				break
			}
		}
		polys[target] = append(polys[target], h)
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for _, rings := range polys {
		var flat []float64
		var ends []int
		for _, ring := range rings {
			flat = append(flat, ring...)
			ends = append(ends, len(flat))
		}
		if err := mp.Push(geom.NewPolygonFlat(geom.XY, flat, ends)); err != nil {
			zap.L().Debug("source: skipping malformed polygon part", zap.Error(err))
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

func flatPoints(points []shp.Point) []float64 {
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}
