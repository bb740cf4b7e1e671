package spatial

import (
	"sync"

	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/vivabilite/internal/failure"
)

// Supported spatial reference ids.
const (
	WGS84     = 4326
	Lambert93 = 2154
)

// Metric is the projected system used for distances and spatial joins.
const Metric = Lambert93

// RGF93 geographic coordinates share the GRS80 ellipsoid with Lambert-93, so no datum
// shift is applied. The difference to WGS84 is below a meter.
var projDefs = map[int]string{
	WGS84:     "+proj=longlat +ellps=GRS80 +no_defs",
	Lambert93: "+proj=lcc +lat_1=49 +lat_2=44 +lat_0=46.5 +lon_0=3 +x_0=700000 +y_0=6600000 +ellps=GRS80 +units=m +no_defs",
}

type transformKey struct{ from, to int }

// Projector converts coordinates between supported spatial reference systems.
// Safe for concurrent use.
type Projector struct {
	mu         sync.Mutex
	transforms map[transformKey]proj.Transformer
}

// NewProjector creates a Projector.
func NewProjector() *Projector {
	return &Projector{transforms: make(map[transformKey]proj.Transformer)}
}

// Supported reports whether srid can be projected.
func Supported(srid int) bool {
	_, ok := projDefs[normalizeSRID(srid)]
	return ok
}

// normalizeSRID maps 0 (unknown) to WGS84.
func normalizeSRID(srid int) int {
	if srid == 0 {
		return WGS84
	}
	return srid
}

func (p *Projector) transformer(from, to int) (proj.Transformer, error) {
	key := transformKey{from, to}

	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.transforms[key]; ok {
		return t, nil
	}

	srcDef, ok := projDefs[from]
	if !ok {
		return nil, failure.New(failure.Configuration, eris.Errorf("spatial: unsupported srid %d", from))
	}
	dstDef, ok := projDefs[to]
	if !ok {
		return nil, failure.New(failure.Configuration, eris.Errorf("spatial: unsupported srid %d", to))
	}

	src, err := proj.Parse(srcDef)
	if err != nil {
		return nil, eris.Wrapf(err, "spatial: parse srid %d", from)
	}
	dst, err := proj.Parse(dstDef)
	if err != nil {
		return nil, eris.Wrapf(err, "spatial: parse srid %d", to)
	}
	t, err := src.NewTransform(dst)
	if err != nil {
		return nil, eris.Wrapf(err, "spatial: transform %d -> %d", from, to)
	}
	p.transforms[key] = t
	return t, nil
}

// Point transforms a single coordinate.
func (p *Projector) Point(x, y float64, from, to int) (float64, float64, error) {
	from, to = normalizeSRID(from), normalizeSRID(to)
	if from == to {
		return x, y, nil
	}
	t, err := p.transformer(from, to)
	if err != nil {
		return 0, 0, err
	}
	tx, ty, err := t(x, y)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "spatial: transform point (%f, %f)", x, y)
	}
	return tx, ty, nil
}

// Geometry returns a transformed copy of g. The input is never modified.
func (p *Projector) Geometry(g geom.T, from, to int) (geom.T, error) {
	from, to = normalizeSRID(from), normalizeSRID(to)
	if from == to {
		return g, nil
	}
	t, err := p.transformer(from, to)
	if err != nil {
		return nil, err
	}

	out, err := cloneGeometry(g)
	if err != nil {
		return nil, err
	}

	flat := out.FlatCoords()
	stride := out.Stride()
	for i := 0; i+1 < len(flat); i += stride {
		x, y, err := t(flat[i], flat[i+1])
		if err != nil {
			return nil, eris.Wrapf(err, "spatial: transform coordinate (%f, %f)", flat[i], flat[i+1])
		}
		flat[i], flat[i+1] = x, y
	}
	return out, nil
}

func cloneGeometry(g geom.T) (geom.T, error) {
	switch v := g.(type) {
	case *geom.Point:
		return v.Clone(), nil
	case *geom.LineString:
		return v.Clone(), nil
	case *geom.Polygon:
		return v.Clone(), nil
	case *geom.MultiPoint:
		return v.Clone(), nil
	case *geom.MultiLineString:
		return v.Clone(), nil
	case *geom.MultiPolygon:
		return v.Clone(), nil
	default:
		return nil, failure.New(failure.UnsupportedFormat, eris.Errorf("spatial: unsupported geometry %T", g))
	}
}
