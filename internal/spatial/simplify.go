package spatial

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
	"github.com/twpayne/go-geom"
)

// Simplify returns a Douglas-Peucker simplified copy of a polygonal geometry, tolerance in
// coordinate units. Rings that would collapse keep their original vertices; holes that
// collapse are dropped. Other geometry types are returned unchanged.
func Simplify(g geom.T, tolerance float64) geom.T {
	if tolerance <= 0 {
		return g
	}
	s := simplify.DouglasPeucker(tolerance)

	switch t := g.(type) {
	case *geom.Polygon:
		if p, ok := simplifyPolygon(s, t); ok {
			return p
		}
	case *geom.MultiPolygon:
		out := geom.NewMultiPolygon(geom.XY)
		for i := 0; i < t.NumPolygons(); i++ {
			p, ok := simplifyPolygon(s, t.Polygon(i))
			if !ok {
				return g
			}
			if err := out.Push(p); err != nil {
				return g
			}
		}
		return out
	}
	return g
}

func simplifyPolygon(s *simplify.DouglasPeuckerSimplifier, p *geom.Polygon) (*geom.Polygon, bool) {
	rings := make([][]geom.Coord, 0, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		lr := p.LinearRing(i)
		r := make(orb.Ring, 0, lr.NumCoords())
		for _, c := range lr.Coords() {
			r = append(r, orb.Point{c.X(), c.Y()})
		}
		simplified := s.Ring(r)
		if len(simplified) < 4 {
			if i > 0 {
				continue
			}
			simplified = r
		}
		coords := make([]geom.Coord, len(simplified))
		for j, pt := range simplified {
			coords[j] = geom.Coord{pt[0], pt[1]}
		}
		rings = append(rings, coords)
	}
	out, err := geom.NewPolygon(geom.XY).SetCoords(rings)
	if err != nil {
		return nil, false
	}
	return out, true
}
