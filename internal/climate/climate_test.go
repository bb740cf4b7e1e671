package climate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/vivabilite/internal/failure"
	"github.com/sells-group/vivabilite/internal/processor"
	"github.com/sells-group/vivabilite/internal/score"
	"github.com/sells-group/vivabilite/internal/source"
	"github.com/sells-group/vivabilite/internal/spatial"
	"github.com/sells-group/vivabilite/internal/values"
)

const drias = `# Indicateurs annuels
# Modele : CNRM-ALADIN63
Point;Latitude;Longitude;NORTX35D_yr;NORTR_yr;ATMm_yr
1;46.5;3.0;15;50;2
2;46.505;3.005;15;50;4
3;46.5;3.06;30;0;
4;47.5;1.0;30;100;4
`

func lonLatBox(lon0, lat0, lon1, lat1 float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		lon0, lat0,
		lon1, lat0,
		lon1, lat1,
		lon0, lat1,
		lon0, lat0,
	}, []int{10})
}

func communes(t *testing.T) *processor.Communes {
	t.Helper()
	fc := &spatial.FeatureCollection{
		SRID:   spatial.WGS84,
		Fields: []string{"code"},
		Features: []spatial.Feature{
			{Geom: lonLatBox(2.99, 46.49, 3.01, 46.51), Props: map[string]string{"code": "A"}},
			{Geom: lonLatBox(3.05, 46.49, 3.07, 46.51), Props: map[string]string{"code": "B"}},
			{Geom: lonLatBox(3.20, 46.49, 3.21, 46.50), Props: map[string]string{"code": "C"}},
		},
	}
	c, err := processor.Prepare(fc, "code", spatial.NewProjector())
	require.NoError(t, err)
	return c
}

func loadGrid(t *testing.T, p *Pipeline) *Grid {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drias.txt")
	require.NoError(t, os.WriteFile(path, []byte(drias), 0o644))
	g, err := p.Load(context.Background(), source.NewFiles(), path)
	require.NoError(t, err)
	return g
}

func TestLoad(t *testing.T) {
	g := loadGrid(t, New(nil))
	assert.Equal(t, 4, g.Points())
	assert.Equal(t, []string{"NORTX35D_yr", "NORTR_yr", "ATMm_yr"}, g.Available())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := New(nil).Load(context.Background(), source.NewFiles(), filepath.Join(t.TempDir(), "none.txt"))
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.DataUnavailable))
}

func TestFromFeatures_NoKnownIndicator(t *testing.T) {
	fc := &spatial.FeatureCollection{SRID: spatial.WGS84, Fields: []string{"Point", "Latitude", "Longitude", "other"}}
	_, err := New(nil).FromFeatures(fc)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.UnsupportedFormat))
}

func TestAggregate(t *testing.T) {
	p := New(nil)
	agg, err := p.Aggregate(loadGrid(t, p), communes(t))
	require.NoError(t, err)

	heat := agg.Raw("NORTX35D_yr")
	assert.InDelta(t, 15, heat["A"].Value, 1e-9)
	assert.InDelta(t, 30, heat["B"].Value, 1e-9)
	assert.False(t, heat["C"].Valid)

	atm := agg.Raw("ATMm_yr")
	assert.InDelta(t, 3, atm["A"].Value, 1e-9)
	assert.False(t, atm["B"].Valid)
}

func TestAggregate_Max(t *testing.T) {
	p := New(nil, WithAggregation("max"))
	agg, err := p.Aggregate(loadGrid(t, p), communes(t), "ATMm_yr")
	require.NoError(t, err)
	assert.Equal(t, []string{"ATMm_yr"}, agg.Indicators())
	assert.InDelta(t, 4, agg.Raw("ATMm_yr")["A"].Value, 1e-9)
	assert.Nil(t, agg.Raw("NORTR_yr"))
}

func TestAggregate_UnknownIndicator(t *testing.T) {
	p := New(nil)
	_, err := p.Aggregate(loadGrid(t, p), communes(t), "NORIFM40_yr")
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.Configuration))
}

func TestScoreIndicators(t *testing.T) {
	p := New(nil)
	agg, err := p.Aggregate(loadGrid(t, p), communes(t))
	require.NoError(t, err)
	s := p.ScoreIndicators(agg)

	assert.Equal(t, []string{"ATMm_yr", "NORTR_yr", "NORTX35D_yr"}, s.Indicators())
	assert.InDelta(t, 50, s.Score("NORTX35D_yr")["A"].Value, 1e-9)
	assert.InDelta(t, 0, s.Score("NORTX35D_yr")["B"].Value, 1e-9)
	assert.InDelta(t, 100, s.Score("NORTR_yr")["B"].Value, 1e-9)
	assert.InDelta(t, 25, s.Score("ATMm_yr")["A"].Value, 1e-9)
	assert.False(t, s.Score("ATMm_yr")["B"].Valid)
}

func TestComposite(t *testing.T) {
	p := New(nil)
	agg, err := p.Aggregate(loadGrid(t, p), communes(t))
	require.NoError(t, err)
	s := p.ScoreIndicators(agg)

	out := p.Composite(s, nil)
	// A: (50*1.5 + 50*1.0 + 25*0.5) / 3
	assert.InDelta(t, 137.5/3, out["A"].Value, 1e-9)
	// B: ATMm_yr is missing and excluded from both sums.
	assert.InDelta(t, 40, out["B"].Value, 1e-9)
	assert.InDelta(t, 50, out["C"].Value, 1e-9)

	out = p.Composite(s, map[string]float64{"NORTR_yr": 0})
	assert.InDelta(t, 43.75, out["A"].Value, 1e-9)
	assert.InDelta(t, 0, out["B"].Value, 1e-9)
}

func TestRun(t *testing.T) {
	p := New(nil)
	res, err := p.Run(loadGrid(t, p), communes(t), nil)
	require.NoError(t, err)
	assert.Len(t, res.Composite, 3)
	assert.InDelta(t, 40, res.Composite["B"].Value, 1e-9)
	assert.NotNil(t, res.Aggregated.Raw("NORTR_yr"))
}

func TestResult_CategoryMarksUnmeasuredMissing(t *testing.T) {
	p := New(nil)
	res, err := p.Run(loadGrid(t, p), communes(t), nil)
	require.NoError(t, err)

	assert.True(t, res.Scores.Measured("A"))
	assert.False(t, res.Scores.Measured("C"))
	assert.Equal(t, values.Of(50), res.Composite["C"], "standalone composite stays neutral")

	cat := res.Category()
	assert.False(t, cat["C"].Valid)
	assert.Equal(t, res.Composite["B"], cat["B"])

	global := score.WeightedGlobal(
		map[string]values.Float{"climat_global": cat["C"], "revenu": values.Of(90)},
		map[string]float64{"climat_global": 50, "revenu": 50},
	)
	assert.InDelta(t, 90, global, 1e-9)
}

func TestDefaultWeights(t *testing.T) {
	w := New(nil).DefaultWeights()
	assert.Len(t, w, 7)
	assert.InDelta(t, 1.5, w["NORIFM40_yr"], 1e-9)
	assert.InDelta(t, 0.5, w["ATMm_yr"], 1e-9)
}
