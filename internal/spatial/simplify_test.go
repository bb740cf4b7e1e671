package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

// denseSquare is a square outline with a vertex every step along each edge.
func denseSquare(size, step float64) []geom.Coord {
	var ring []geom.Coord
	for x := 0.0; x < size; x += step {
		ring = append(ring, geom.Coord{x, 0})
	}
	for y := 0.0; y < size; y += step {
		ring = append(ring, geom.Coord{size, y})
	}
	for x := size; x > 0; x -= step {
		ring = append(ring, geom.Coord{x, size})
	}
	for y := size; y > 0; y -= step {
		ring = append(ring, geom.Coord{0, y})
	}
	return append(ring, geom.Coord{0, 0})
}

func TestSimplify_DropsCollinearVertices(t *testing.T) {
	p, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{denseSquare(1000, 10)})
	require.NoError(t, err)
	require.Greater(t, p.NumCoords(), 100)

	out, ok := Simplify(p, 50).(*geom.Polygon)
	require.True(t, ok)
	assert.Equal(t, 5, out.NumCoords())
	assert.InDelta(t, 1000*1000, out.Area(), 1e-6)
}

func TestSimplify_DropsCollapsedHoles(t *testing.T) {
	hole := []geom.Coord{{500, 500}, {501, 500}, {501, 501}, {500, 501}, {500, 500}}
	p, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{denseSquare(1000, 10), hole})
	require.NoError(t, err)

	out := Simplify(p, 50).(*geom.Polygon)
	assert.Equal(t, 1, out.NumLinearRings())
}

func TestSimplify_MultiPolygonAndPassthrough(t *testing.T) {
	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(square(0, 0, 100)))
	require.NoError(t, mp.Push(square(500, 500, 100)))

	out, ok := Simplify(mp, 10).(*geom.MultiPolygon)
	require.True(t, ok)
	assert.Equal(t, 2, out.NumPolygons())

	line := geom.NewLineStringFlat(geom.XY, []float64{0, 0, 1, 0, 2, 0})
	assert.Same(t, line, Simplify(line, 10))
	assert.Same(t, mp, Simplify(mp, 0))
}
