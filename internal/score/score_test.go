package score

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vivabilite/internal/failure"
	"github.com/sells-group/vivabilite/internal/values"
)

func TestNormalize_Endpoints(t *testing.T) {
	assert.Equal(t, 0.0, Normalize(0, 0, 100, false))
	assert.Equal(t, 100.0, Normalize(100, 0, 100, false))
	assert.Equal(t, 100.0, Normalize(0, 0, 100, true))
	assert.Equal(t, 0.0, Normalize(100, 0, 100, true))
	assert.Equal(t, 25.0, Normalize(25, 0, 100, false))
	assert.Equal(t, 75.0, Normalize(25, 0, 100, true))
}

func TestNormalize_Clamps(t *testing.T) {
	assert.Equal(t, 0.0, Normalize(-10, 0, 100, false))
	assert.Equal(t, 100.0, Normalize(250, 0, 100, false))
	assert.Equal(t, 100.0, Normalize(-10, 0, 100, true))
	assert.Equal(t, 0.0, Normalize(250, 0, 100, true))
	assert.Equal(t, 100.0, Normalize(math.Inf(1), 0, 100, false))
}

func TestNormalize_MonotonicAndBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		lo := rng.Float64()*200 - 100
		hi := lo + rng.Float64()*100 + 1e-6
		a := rng.Float64()*400 - 200
		b := a + rng.Float64()*50

		for _, invert := range []bool{false, true} {
			sa, sb := Normalize(a, lo, hi, invert), Normalize(b, lo, hi, invert)
			assert.GreaterOrEqual(t, sa, 0.0)
			assert.LessOrEqual(t, sa, 100.0)
			if invert {
				assert.GreaterOrEqual(t, sa, sb)
			} else {
				assert.LessOrEqual(t, sa, sb)
			}
		}
	}
}

func TestNormalize_DegenerateRange(t *testing.T) {
	for _, v := range []float64{-1e9, 0, 7, 1e9} {
		assert.Equal(t, 50.0, Normalize(v, 7, 7, false))
		assert.Equal(t, 50.0, Normalize(v, 7, 7, true))
	}
}

func TestNormalize_NaNPropagates(t *testing.T) {
	assert.True(t, math.IsNaN(Normalize(math.NaN(), 0, 100, false)))
	assert.True(t, math.IsNaN(Normalize(math.NaN(), 5, 5, false)))
	assert.False(t, NormalizeFloat(values.Missing(), 0, 100, false).Valid)
}

func TestNormalize_ReversedBounds(t *testing.T) {
	// (100, 0) to (0, 100): same line as an inverted [0, 100] scale.
	assert.Equal(t, Normalize(30, 0, 100, true), Normalize(30, 100, 0, false))
	assert.Equal(t, Normalize(30, 0, 100, false), Normalize(30, 100, 0, true))
}

func TestNormalizeColumnAndRange(t *testing.T) {
	col := values.Column{"a": values.Of(10), "b": values.Of(20), "c": values.Missing()}
	lo, hi, ok := Range(col)
	require.True(t, ok)
	assert.Equal(t, 10.0, lo)
	assert.Equal(t, 20.0, hi)

	out := NormalizeColumn(col, lo, hi, false)
	assert.Equal(t, values.Of(0), out["a"])
	assert.Equal(t, values.Of(100), out["b"])
	assert.False(t, out["c"].Valid)

	_, _, ok = Range(values.Column{"x": values.Missing()})
	assert.False(t, ok)
}

func f(v float64) values.Float { return values.Of(v) }

func TestWeightedGlobal(t *testing.T) {
	tests := []struct {
		name    string
		scores  map[string]values.Float
		weights map[string]float64
		want    float64
	}{
		{"no categories", map[string]values.Float{}, map[string]float64{}, 50},
		{"zero weight", map[string]values.Float{"a": f(80)}, map[string]float64{"a": 0}, 50},
		{"balanced extremes", map[string]values.Float{"a": f(100), "b": f(0)}, map[string]float64{"a": 50, "b": 50}, 50},
		{"missing is excluded", map[string]values.Float{"a": f(90)}, map[string]float64{"a": 50, "b": 50}, 90},
		{"explicit missing is excluded", map[string]values.Float{"a": f(90), "b": values.Missing()}, map[string]float64{"a": 50, "b": 50}, 90},
		{"weighted", map[string]values.Float{"a": f(100), "b": f(0)}, map[string]float64{"a": 75, "b": 25}, 75},
		{"negative weight ignored", map[string]values.Float{"a": f(20), "b": f(80)}, map[string]float64{"a": -10, "b": 10}, 80},
		{"unweighted score ignored", map[string]values.Float{"a": f(20), "z": f(100)}, map[string]float64{"a": 10}, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WeightedGlobal(tt.scores, tt.weights))
		})
	}
}

func TestRound1(t *testing.T) {
	assert.Equal(t, 66.7, Round1(200.0/3))
	assert.Equal(t, 50.0, Round1(50))
}

func TestScale_Apply(t *testing.T) {
	raw := values.Column{"a": f(10), "b": f(30), "c": values.Missing()}

	observed := Scale{}.Apply(raw)
	assert.Equal(t, f(0), observed["a"])
	assert.Equal(t, f(100), observed["b"])
	assert.False(t, observed["c"].Valid)

	fixed := Scale{Min: f(0), Max: f(40), Invert: true}.Apply(raw)
	assert.Equal(t, f(75), fixed["a"])
	assert.Equal(t, f(25), fixed["b"])

	half := Scale{Min: f(0)}.Apply(raw)
	assert.InDelta(t, 33.333, half["a"].Value, 1e-3)

	empty := Scale{}.Apply(values.Column{"a": values.Missing()})
	assert.False(t, empty["a"].Valid)
}

func TestDistance_Score(t *testing.T) {
	raw := values.Column{"near": f(0), "mid": f(25_000), "far": f(80_000)}
	closer := Distance{Max: 50_000}.Score(raw)
	assert.Equal(t, f(100), closer["near"])
	assert.Equal(t, f(50), closer["mid"])
	assert.Equal(t, f(0), closer["far"])

	farther := Distance{Max: 50_000, FartherIsBetter: true}.Score(raw)
	assert.Equal(t, f(0), farther["near"])
}

func TestDefinition_Validate(t *testing.T) {
	valid := []Definition{
		{Category: "mer", Layer: "coast", Recipe: Distance{Max: 50_000}},
		{Category: "alt", Layer: "dem", Recipe: PointSample{}},
		{Category: "ndvi", Layer: "ndvi", Recipe: Zonal{Stat: values.Median}},
		{Category: "rev", Layer: "insee", Recipe: Normalized{Column: "revenu"}},
		{Category: "pm25", Layer: "air", Recipe: Aggregate{Column: "pm25", Agg: values.Max}},
		{Category: "climat", Layer: "drias", Recipe: Climate{}},
	}
	for _, d := range valid {
		assert.NoError(t, d.Validate(), d.Category)
	}

	invalid := []Definition{
		{Layer: "coast", Recipe: Distance{Max: 1}},
		{Category: "mer", Recipe: Distance{Max: 1}},
		{Category: "mer", Layer: "coast"},
		{Category: "mer", Layer: "coast", Recipe: Distance{}},
		{Category: "alt", Layer: "dem", Recipe: PointSample{Band: -1}},
		{Category: "ndvi", Layer: "ndvi", Recipe: Zonal{Stat: "mode"}},
		{Category: "rev", Layer: "insee", Recipe: Normalized{}},
		{Category: "pm25", Layer: "air", Recipe: Aggregate{}},
	}
	for _, d := range invalid {
		err := d.Validate()
		require.Error(t, err, d.Category)
		assert.True(t, failure.Is(err, failure.Configuration))
	}
}

func TestDefinitions_UpsertAndList(t *testing.T) {
	defs := NewDefinitions()
	defs.Define(Definition{Category: "mer", Layer: "coast", Recipe: Distance{Max: 10}})
	defs.Define(Definition{Category: "alt", Layer: "dem", Recipe: PointSample{}})
	defs.Define(Definition{Category: "mer", Layer: "coast_v2", Recipe: Distance{Max: 20}})

	assert.Equal(t, []string{"alt", "mer"}, defs.Categories())
	assert.Equal(t, 2, defs.Len())

	d, ok := defs.Get("mer")
	require.True(t, ok)
	assert.Equal(t, "coast_v2", d.Layer)
	assert.Equal(t, Distance{Max: 20}, d.Recipe)
	assert.Equal(t, MethodDistance, d.Method())

	_, ok = defs.Get("absent")
	assert.False(t, ok)

	all := defs.All()
	require.Len(t, all, 2)
	assert.Equal(t, "alt", all[0].Category)
}
