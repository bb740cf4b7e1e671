package spatial

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Box is an axis-aligned bounding box.
type Box struct {
	MinX, MinY, MaxX, MaxY float64
}

// BoundsOf returns the bounding box of g.
func BoundsOf(g geom.T) Box {
	b := g.Bounds()
	return Box{MinX: b.Min(0), MinY: b.Min(1), MaxX: b.Max(0), MaxY: b.Max(1)}
}

// Contains reports whether the box contains (x, y).
func (b Box) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// Intersects reports whether two boxes overlap.
func (b Box) Intersects(o Box) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX && b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

// Empty reports whether the box has no extent in either dimension.
func (b Box) Empty() bool {
	return !(b.MaxX >= b.MinX && b.MaxY >= b.MinY)
}

// IsPolygonal reports whether g is a Polygon or MultiPolygon.
func IsPolygonal(g geom.T) bool {
	switch g.(type) {
	case *geom.Polygon, *geom.MultiPolygon:
		return true
	default:
		return false
	}
}

// Contains reports whether (x, y) lies inside a polygonal geometry. Rings are combined with
// the even-odd rule, so holes are honoured whether they are stored as inner rings or as
// separate parts.
func Contains(g geom.T, x, y float64) bool {
	if !BoundsOf(g).Contains(x, y) {
		return false
	}
	p := geom.Coord{x, y}
	var crossings int
	forEachRing(g, func(layout geom.Layout, ring []float64) {
		if xy.IsPointInRing(layout, p, ring) {
			crossings++
		}
	})
	return crossings%2 == 1
}

func forEachRing(g geom.T, fn func(layout geom.Layout, ring []float64)) {
	switch v := g.(type) {
	case *geom.Polygon:
		for i := 0; i < v.NumLinearRings(); i++ {
			fn(v.Layout(), v.LinearRing(i).FlatCoords())
		}
	case *geom.MultiPolygon:
		for i := 0; i < v.NumPolygons(); i++ {
			forEachRing(v.Polygon(i), fn)
		}
	}
}

// Centroid returns the centroid of g. Degenerate polygons fall back to the bbox center.
func Centroid(g geom.T) (float64, float64) {
	c, err := xy.Centroid(g)
	if err != nil || len(c) < 2 || math.IsNaN(c[0]) || math.IsNaN(c[1]) {
		b := BoundsOf(g)
		return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2
	}
	return c[0], c[1]
}

// Segments calls fn for every segment of the lines and rings of g. Segments longer than
// maxLen are split into equal parts; maxLen <= 0 disables splitting. Points yield a
// zero-length segment.
func Segments(g geom.T, maxLen float64, fn func(a, b geom.Coord)) {
	switch v := g.(type) {
	case *geom.Point:
		c := geom.Coord{v.X(), v.Y()}
		fn(c, c)
	case *geom.MultiPoint:
		for i := 0; i < v.NumPoints(); i++ {
			Segments(v.Point(i), maxLen, fn)
		}
	case *geom.LineString:
		pathSegments(v.FlatCoords(), v.Stride(), maxLen, fn)
	case *geom.MultiLineString:
		for i := 0; i < v.NumLineStrings(); i++ {
			Segments(v.LineString(i), maxLen, fn)
		}
	case *geom.Polygon, *geom.MultiPolygon:
		forEachRing(g, func(layout geom.Layout, ring []float64) {
			pathSegments(ring, layout.Stride(), maxLen, fn)
		})
	}
}

func pathSegments(flat []float64, stride int, maxLen float64, fn func(a, b geom.Coord)) {
	n := len(flat) / stride
	if n == 1 {
		c := geom.Coord{flat[0], flat[1]}
		fn(c, c)
		return
	}
	for i := 0; i+1 < n; i++ {
		a := geom.Coord{flat[i*stride], flat[i*stride+1]}
		b := geom.Coord{flat[(i+1)*stride], flat[(i+1)*stride+1]}
		length := math.Hypot(b[0]-a[0], b[1]-a[1])
		if maxLen <= 0 || length <= maxLen {
			fn(a, b)
			continue
		}
		parts := int(math.Ceil(length / maxLen))
		prev := a
		for k := 1; k <= parts; k++ {
			t := float64(k) / float64(parts)
			next := geom.Coord{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
			fn(prev, next)
			prev = next
		}
	}
}

// SignedArea returns the shoelace area of a flat ring; positive for counter-clockwise rings.
func SignedArea(flat []float64, stride int) float64 {
	n := len(flat) / stride
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += flat[i*stride]*flat[j*stride+1] - flat[j*stride]*flat[i*stride+1]
	}
	return sum / 2
}
