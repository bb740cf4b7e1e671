package service

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/vivabilite/internal/spatial"
)

// SimplifyTolerance is the outline simplification tolerance in meters. 200 m keeps
// France-wide maps readable with every commune drawn.
const SimplifyTolerance = 200.0

// GeoJSON returns the communes matching req as a WGS84 FeatureCollection for map rendering.
// Features carry the INSEE code, name, population and global score and come best score
// first. Outlines are simplified in Lambert-93 when simplified is set.
func (s *Service) GeoJSON(ctx context.Context, req SearchRequest, simplified bool) (*geojson.FeatureCollection, error) {
	matched, err := s.match(ctx, req)
	if err != nil {
		return nil, err
	}
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(matched))}
	if len(matched) == 0 {
		return fc, nil
	}

	outlines, err := s.outlines(ctx, simplified)
	if err != nil {
		return nil, err
	}
	for _, c := range page(matched, req.Offset, req.Limit) {
		g, ok := outlines[c.Code]
		if !ok {
			continue
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       c.Code,
			Geometry: g,
			Properties: map[string]any{
				"code_insee":   c.Code,
				"nom":          c.Name,
				"population":   c.Population,
				"score_global": c.ScoreGlobal,
			},
		})
	}
	return fc, nil
}

// outlines returns the cached WGS84 outline of every commune.
func (s *Service) outlines(ctx context.Context, simplified bool) (map[string]geom.T, error) {
	sc, err := s.load(ctx)
	if err != nil || sc == nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := sc.outlines[simplified]; ok {
		return o, nil
	}

	proj := s.engine.Projector()
	out := make(map[string]geom.T, len(sc.communes.Items))
	before, after := 0, 0
	for i := range sc.communes.Items {
		it := &sc.communes.Items[i]
		g := it.Geom
		if simplified {
			g = spatial.Simplify(g, SimplifyTolerance)
		}
		before += numCoords(it.Geom)
		after += numCoords(g)

		wgs, err := proj.Geometry(g, spatial.Metric, spatial.WGS84)
		if err != nil {
			return nil, eris.Wrapf(err, "service: project commune %s", it.ID)
		}
		out[it.ID] = wgs
	}

	if sc.outlines == nil {
		sc.outlines = make(map[bool]map[string]geom.T, 2)
	}
	sc.outlines[simplified] = out
	zap.L().Info("service: commune outlines ready",
		zap.Int("communes", len(out)),
		zap.Bool("simplified", simplified),
		zap.Int("vertices_before", before),
		zap.Int("vertices_after", after),
	)
	return out, nil
}

func numCoords(g geom.T) int {
	if g == nil || g.Stride() == 0 {
		return 0
	}
	return len(g.FlatCoords()) / g.Stride()
}
