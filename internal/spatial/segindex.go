package spatial

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// segment is a line piece indexed by its midpoint.
type segment struct {
	mid   orb.Point
	a, b  geom.Coord
	owner int
}

// Point implements orb.Pointer.
func (s *segment) Point() orb.Point {
	return s.mid
}

// SegmentIndex answers nearest-distance queries against the segments of a set of geometries.
//
// Segments are capped at a maximum length and indexed by midpoint in a quadtree. Any segment
// closer than the current best distance d has its midpoint within d + halfMax of the query
// point, so expanding a k-nearest search up to that radius is exact.
type SegmentIndex struct {
	qt      *quadtree.Quadtree
	halfMax float64
	count   int
}

// NewSegmentIndex indexes the segments of geoms. owner in query results is the position of the
// geometry in geoms. maxLen caps segment length (same units as the coordinates).
func NewSegmentIndex(geoms []geom.T, maxLen float64) *SegmentIndex {
	var segs []*segment
	var halfMax float64
	bound := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}

	for i, g := range geoms {
		if g == nil {
			continue
		}
		Segments(g, maxLen, func(a, b geom.Coord) {
			s := &segment{
				mid:   orb.Point{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2},
				a:     a,
				b:     b,
				owner: i,
			}
			if h := math.Hypot(b[0]-a[0], b[1]-a[1]) / 2; h > halfMax {
				halfMax = h
			}
			bound = bound.Extend(s.mid)
			segs = append(segs, s)
		})
	}

	idx := &SegmentIndex{halfMax: halfMax, count: len(segs)}
	if len(segs) == 0 {
		return idx
	}

	bound = bound.Pad(1)
	idx.qt = quadtree.New(bound)
	for _, s := range segs {
		// Bound was built from every midpoint, so Add cannot fail.
		_ = idx.qt.Add(s)
	}
	return idx
}

// Len returns the number of indexed segments.
func (idx *SegmentIndex) Len() int {
	return idx.count
}

// Nearest returns the distance from (x, y) to the closest segment and the owner of that
// segment. ok is false when the index is empty.
func (idx *SegmentIndex) Nearest(x, y float64) (dist float64, owner int, ok bool) {
	if idx.qt == nil {
		return 0, -1, false
	}
	p := orb.Point{x, y}
	c := geom.Coord{x, y}

	first, _ := idx.qt.Find(p).(*segment)
	if first == nil {
		return 0, -1, false
	}
	best := xy.DistanceFromPointToLine(c, first.a, first.b)
	owner = first.owner

	limit := best + idx.halfMax
	var buf []orb.Pointer
	for k := 16; ; k *= 4 {
		buf = idx.qt.KNearest(buf[:0], p, k, limit)
		for _, ptr := range buf {
			s := ptr.(*segment)
			if d := xy.DistanceFromPointToLine(c, s.a, s.b); d < best {
				best = d
				owner = s.owner
			}
		}
		if len(buf) < k {
			break
		}
	}
	return best, owner, true
}
