package engine

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/vivabilite/internal/failure"
	"github.com/sells-group/vivabilite/internal/layer"
	"github.com/sells-group/vivabilite/internal/score"
	"github.com/sells-group/vivabilite/internal/source"
	"github.com/sells-group/vivabilite/internal/spatial"
	"github.com/sells-group/vivabilite/internal/values"
)

const (
	x0 = 700000.0
	y0 = 6600000.0
)

// memReader serves in-memory datasets keyed by path.
type memReader struct {
	vectors map[string]*spatial.FeatureCollection
	rasters map[string]*spatial.Grid
	tables  map[string]*source.Table
}

func (m *memReader) ReadVector(_ context.Context, path string, _ source.VectorOptions) (*spatial.FeatureCollection, error) {
	if fc, ok := m.vectors[path]; ok {
		return fc, nil
	}
	return nil, failure.New(failure.DataUnavailable, eris.Errorf("no vector %s", path))
}

func (m *memReader) ReadRaster(_ context.Context, path string, _ source.RasterOptions) (*spatial.Grid, error) {
	if g, ok := m.rasters[path]; ok {
		return g, nil
	}
	return nil, failure.New(failure.DataUnavailable, eris.Errorf("no raster %s", path))
}

func (m *memReader) ReadTable(_ context.Context, path string, _ source.TableOptions) (*source.Table, error) {
	if t, ok := m.tables[path]; ok {
		return t, nil
	}
	return nil, failure.New(failure.DataUnavailable, eris.Errorf("no table %s", path))
}

func square(minX, minY, size float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		minX, minY,
		minX + size, minY,
		minX + size, minY + size,
		minX, minY + size,
		minX, minY,
	}, []int{10})
}

func point(x, y float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{x, y})
}

func fixture(t *testing.T) *memReader {
	t.Helper()
	tbl, err := source.NewTable(
		[]string{"code_insee", "indice", "revenu"},
		[][]string{{"01001", "0", "15000"}, {"01002", "50", ""}, {"01003", "100", "30000"}},
		"code_insee",
	)
	require.NoError(t, err)

	return &memReader{
		vectors: map[string]*spatial.FeatureCollection{
			"communes.shp": {
				SRID:   spatial.Lambert93,
				Fields: []string{"INSEE_COM", "POP"},
				Features: []spatial.Feature{
					{Geom: square(x0, y0, 1000), Props: map[string]string{"INSEE_COM": "01001", "POP": "100"}},
					{Geom: square(x0+2000, y0, 1000), Props: map[string]string{"INSEE_COM": "01002", "POP": "200"}},
					{Geom: square(x0+10000, y0, 1000), Props: map[string]string{"INSEE_COM": "01003", "POP": "300"}},
				},
			},
			"coast.shp": {
				SRID:   spatial.Lambert93,
				Fields: []string{},
				Features: []spatial.Feature{
					{Geom: geom.NewLineStringFlat(geom.XY, []float64{x0 - 1000, y0 - 5000, x0 - 1000, y0 + 5000})},
				},
			},
			"drias.txt": {
				SRID:   spatial.Lambert93,
				Fields: []string{"Point", "NORTX35D_yr", "pm25"},
				Features: []spatial.Feature{
					{Geom: point(x0+500, y0+500), Props: map[string]string{"NORTX35D_yr": "0", "pm25": "10"}},
					{Geom: point(x0+2500, y0+500), Props: map[string]string{"NORTX35D_yr": "30", "pm25": "20"}},
				},
			},
		},
		rasters: map[string]*spatial.Grid{
			"alt.asc": {
				SRID: spatial.Lambert93, Cols: 11, Rows: 1,
				OriginX: x0, OriginY: y0 + 1000, CellWidth: 1000, CellHeight: 1000,
				NoData: values.Of(-9999),
				Bands:  [][]float64{{100, 0, 300, 0, 0, 0, 0, 0, 0, 0, -9999}},
			},
		},
		tables: map[string]*source.Table{"indicateurs.csv": tbl},
	}
}

func setup(t *testing.T) (*Engine, *score.Definitions) {
	t.Helper()
	layers := layer.NewRegistry(fixture(t))
	layers.RegisterVector("communes", "communes.shp", layer.AsCommunes("INSEE_COM"))
	layers.RegisterVector("coast", "coast.shp")
	layers.RegisterVector("climat", "drias.txt")
	layers.RegisterRaster("altitude", "alt.asc")
	layers.RegisterTable("indicateurs", "indicateurs.csv", layer.WithKeyColumn("code_insee"))
	layers.RegisterTable("absent", "absent.csv")

	defs := score.NewDefinitions()
	return New(layers, defs, nil, WithConcurrency(2)), defs
}

func TestComputeAll_EndToEnd(t *testing.T) {
	e, defs := setup(t)
	defs.Define(score.Definition{
		Category: "indice",
		Layer:    "indicateurs",
		Recipe: score.Normalized{
			Column: "indice",
			Scale:  score.Scale{Min: values.Of(0), Max: values.Of(100)},
		},
	})

	ctx := context.Background()
	c, err := e.Communes(ctx)
	require.NoError(t, err)
	res, err := e.ComputeAll(ctx, c)
	require.NoError(t, err)

	assert.Equal(t, []string{"indice"}, res.Categories)
	assert.Equal(t, []string{"01001", "01002", "01003"}, res.IDs)
	assert.NotEqual(t, "", res.RunID.String())

	expected := map[string]float64{"01001": 0, "01002": 50, "01003": 100}
	global := res.Global(map[string]float64{"indice": 100})
	for id, want := range expected {
		assert.InDelta(t, want, res.Scores["indice"][id].Value, 1e-9, id)
		assert.InDelta(t, want, global[id].Value, 1e-9, id)
	}
}

func TestComputeAll_EveryMethod(t *testing.T) {
	e, defs := setup(t)
	defs.Define(score.Definition{Category: "mer", Layer: "coast", Recipe: score.Distance{Max: 20000}})
	defs.Define(score.Definition{Category: "altitude", Layer: "altitude", Recipe: score.PointSample{
		Scale: score.Scale{Min: values.Of(0), Max: values.Of(400)},
	}})
	defs.Define(score.Definition{Category: "relief", Layer: "altitude", Recipe: score.Zonal{
		Stat:  values.Max,
		Scale: score.Scale{Min: values.Of(0), Max: values.Of(400)},
	}})
	defs.Define(score.Definition{Category: "revenu", Layer: "indicateurs", Recipe: score.Normalized{Column: "revenu"}})
	defs.Define(score.Definition{Category: "population", Layer: "communes", Recipe: score.Normalized{Column: "POP"}})
	defs.Define(score.Definition{Category: "air", Layer: "climat", Recipe: score.Aggregate{
		Column: "pm25",
		Scale:  score.Scale{Min: values.Of(0), Max: values.Of(40), Invert: true},
	}})
	defs.Define(score.Definition{Category: "climat", Layer: "climat", Recipe: score.Climate{}})

	ctx := context.Background()
	c, err := e.Communes(ctx)
	require.NoError(t, err)
	res, err := e.ComputeAll(ctx, c)
	require.NoError(t, err)
	require.Empty(t, res.Skipped)
	assert.Len(t, res.Categories, 7)

	// Distance: centroids at 1500, 3500 and 11500 m from the coast, over [0, 20000] inverted.
	assert.InDelta(t, 1500, res.Raw["mer"]["01001"].Value, 1e-6)
	assert.InDelta(t, 100-1500.0/200, res.Scores["mer"]["01001"].Value, 1e-6)
	assert.InDelta(t, 100-11500.0/200, res.Scores["mer"]["01003"].Value, 1e-6)

	assert.InDelta(t, 25, res.Scores["altitude"]["01001"].Value, 1e-9)
	assert.InDelta(t, 75, res.Scores["altitude"]["01002"].Value, 1e-9)
	assert.False(t, res.Scores["altitude"]["01003"].Valid)

	assert.InDelta(t, 25, res.Scores["relief"]["01001"].Value, 1e-9)

	// Observed range [15000, 30000]; 01002 has no value.
	assert.InDelta(t, 0, res.Scores["revenu"]["01001"].Value, 1e-9)
	assert.InDelta(t, 100, res.Scores["revenu"]["01003"].Value, 1e-9)
	assert.False(t, res.Scores["revenu"]["01002"].Valid)

	assert.InDelta(t, 50, res.Scores["population"]["01002"].Value, 1e-9)

	assert.InDelta(t, 75, res.Scores["air"]["01001"].Value, 1e-9)
	assert.InDelta(t, 50, res.Scores["air"]["01002"].Value, 1e-9)
	assert.False(t, res.Scores["air"]["01003"].Valid)

	assert.InDelta(t, 100, res.Scores["climat"]["01001"].Value, 1e-9)
	assert.InDelta(t, 0, res.Scores["climat"]["01002"].Value, 1e-9)
	assert.False(t, res.Scores["climat"]["01003"].Valid, "no grid point in the commune")
}

func TestComputeAll_ClimateOutsideGridIsExcluded(t *testing.T) {
	e, defs := setup(t)
	defs.Define(score.Definition{Category: "revenu", Layer: "indicateurs", Recipe: score.Normalized{
		Column: "revenu",
		Scale:  score.Scale{Min: values.Of(0), Max: values.Of(30000)},
	}})
	defs.Define(score.Definition{Category: "climat_global", Layer: "climat", Recipe: score.Climate{}})

	ctx := context.Background()
	c, err := e.Communes(ctx)
	require.NoError(t, err)
	res, err := e.ComputeAll(ctx, c)
	require.NoError(t, err)

	global := res.Global(map[string]float64{"climat_global": 50, "revenu": 50})
	// 01003 has no climate point: only revenu counts.
	assert.InDelta(t, 100, global["01003"].Value, 1e-9)
	// 01001: (100*50 + 50*50) / 100
	assert.InDelta(t, 75, global["01001"].Value, 1e-9)
}

func TestComputeAll_SkipsUnresolvableCategories(t *testing.T) {
	e, defs := setup(t)
	defs.Define(score.Definition{Category: "indice", Layer: "indicateurs", Recipe: score.Normalized{
		Column: "indice",
		Scale:  score.Scale{Min: values.Of(0), Max: values.Of(100)},
	}})
	defs.Define(score.Definition{Category: "inconnu", Layer: "nowhere", Recipe: score.Distance{Max: 1000}})
	defs.Define(score.Definition{Category: "absent", Layer: "absent", Recipe: score.Normalized{Column: "x"}})
	defs.Define(score.Definition{Category: "mauvais", Layer: "coast", Recipe: score.Distance{}})
	defs.Define(score.Definition{Category: "type", Layer: "altitude", Recipe: score.Distance{Max: 1000}})
	defs.Define(score.Definition{Category: "colonne", Layer: "indicateurs", Recipe: score.Normalized{Column: "nope"}})
	defs.Define(score.Definition{Category: "vecteur", Layer: "coast", Recipe: score.Normalized{Column: "x"}})

	ctx := context.Background()
	c, err := e.Communes(ctx)
	require.NoError(t, err)
	res, err := e.ComputeAll(ctx, c)
	require.NoError(t, err)

	assert.Equal(t, []string{"indice"}, res.Categories)
	assert.Len(t, res.Skipped, 6)
	for _, cat := range []string{"inconnu", "absent", "mauvais", "type", "colonne", "vecteur"} {
		assert.Contains(t, res.Skipped, cat)
	}

	// Skipped categories are excluded from the global score.
	global := res.Global(map[string]float64{"indice": 50, "inconnu": 50, "absent": 50})
	assert.InDelta(t, 100, global["01003"].Value, 1e-9)
}

func TestComputeAll_Cancelled(t *testing.T) {
	e, defs := setup(t)
	defs.Define(score.Definition{Category: "mer", Layer: "coast", Recipe: score.Distance{Max: 1000}})
	c, err := e.Communes(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.ComputeAll(ctx, c)
	require.Error(t, err)
}

func TestCommunes_NoLayer(t *testing.T) {
	e := New(layer.NewRegistry(&memReader{}), score.NewDefinitions(), nil)
	_, err := e.Communes(context.Background())
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.DataUnavailable))
}

func TestResult_GlobalWithoutWeights(t *testing.T) {
	r := &Result{
		IDs:    []string{"a"},
		Scores: map[string]values.Column{"x": {"a": values.Of(80)}},
	}
	assert.InDelta(t, 50, r.Global(nil)["a"].Value, 1e-9)
}
