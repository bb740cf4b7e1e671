// Package climate scores communes on Météo-France (DRIAS) climate projections. The pipeline
// runs four stages in a fixed order, each stage taking the previous stage's output:
// Load, Aggregate, ScoreIndicators and Composite.
package climate

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vivabilite/internal/failure"
	"github.com/sells-group/vivabilite/internal/processor"
	"github.com/sells-group/vivabilite/internal/score"
	"github.com/sells-group/vivabilite/internal/source"
	"github.com/sells-group/vivabilite/internal/spatial"
	"github.com/sells-group/vivabilite/internal/values"
)

// Indicator describes how one climate indicator is scored. Raw values are normalized over
// [0, Max].
type Indicator struct {
	Code   string  `json:"code"`
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Invert bool    `json:"invert"`
	Max    float64 `json:"max_value"`
}

// DefaultIndicators is the indicator table for DRIAS annual projections. Every indicator
// is a hazard, so higher values score lower.
var DefaultIndicators = []Indicator{
	{Code: "NORTX35D_yr", Name: "Jours >= 35°C", Weight: 1.5, Invert: true, Max: 30},
	{Code: "NORTX30D_yr", Name: "Jours >= 30°C", Weight: 1.0, Invert: true, Max: 90},
	{Code: "NORTR_yr", Name: "Nuits tropicales", Weight: 1.0, Invert: true, Max: 100},
	{Code: "NORIFM40_yr", Name: "Jours risque incendie élevé", Weight: 1.5, Invert: true, Max: 60},
	{Code: "NORRx1d_yr", Name: "Intensité précipitations max", Weight: 0.5, Invert: true, Max: 100},
	{Code: "NORRRq99refD_yr", Name: "Fréquence précipitations extrêmes", Weight: 0.5, Invert: true, Max: 10},
	{Code: "ATMm_yr", Name: "Écart température moyenne", Weight: 0.5, Invert: true, Max: 4},
}

// Pipeline runs the climate stages.
type Pipeline struct {
	Indicators  []Indicator
	Aggregation values.Stat
	Projector   *spatial.Projector
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithIndicators replaces the indicator table.
func WithIndicators(ind []Indicator) Option {
	return func(p *Pipeline) { p.Indicators = ind }
}

// WithAggregation sets how grid points are reduced per commune.
func WithAggregation(s values.Stat) Option {
	return func(p *Pipeline) {
		if s != "" {
			p.Aggregation = s
		}
	}
}

// New creates a Pipeline with the default indicators and mean aggregation.
func New(projector *spatial.Projector, opts ...Option) *Pipeline {
	if projector == nil {
		projector = spatial.NewProjector()
	}
	p := &Pipeline{
		Indicators:  DefaultIndicators,
		Aggregation: values.Mean,
		Projector:   projector,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Indicator returns the table entry for code.
func (p *Pipeline) Indicator(code string) (Indicator, bool) {
	for _, ind := range p.Indicators {
		if ind.Code == code {
			return ind, true
		}
	}
	return Indicator{}, false
}

// DefaultWeights returns the indicator weights keyed by code.
func (p *Pipeline) DefaultWeights() map[string]float64 {
	w := make(map[string]float64, len(p.Indicators))
	for _, ind := range p.Indicators {
		w[ind.Code] = ind.Weight
	}
	return w
}

// Grid is the output of Load: climate grid points and the known indicators they carry.
type Grid struct {
	points    *spatial.FeatureCollection
	available []string
}

// Available lists the indicator codes present in the grid, in table order.
func (g *Grid) Available() []string {
	return append([]string(nil), g.available...)
}

// Points returns the number of grid points.
func (g *Grid) Points() int {
	return g.points.Len()
}

// Load reads a DRIAS point grid from path.
func (p *Pipeline) Load(ctx context.Context, r source.Reader, path string) (*Grid, error) {
	fc, err := r.ReadVector(ctx, path, source.VectorOptions{Format: source.FormatMeteoFrance})
	if err != nil {
		return nil, eris.Wrapf(err, "climate: load %s", path)
	}
	return p.FromFeatures(fc)
}

// FromFeatures wraps an already loaded point grid. A grid carrying none of the known
// indicators is rejected as an unsupported format.
func (p *Pipeline) FromFeatures(fc *spatial.FeatureCollection) (*Grid, error) {
	if fc == nil {
		return nil, failure.New(failure.DataUnavailable, eris.New("climate: no grid"))
	}
	g := &Grid{points: fc}
	for _, ind := range p.Indicators {
		if fc.HasField(ind.Code) {
			g.available = append(g.available, ind.Code)
		}
	}
	if len(g.available) == 0 {
		return nil, failure.New(failure.UnsupportedFormat, eris.New("climate: grid has no known indicator"))
	}
	zap.L().Debug("climate: grid loaded",
		zap.Int("points", fc.Len()),
		zap.Strings("indicators", g.available),
	)
	return g, nil
}

// Aggregated is the output of Aggregate: raw indicator values per commune.
type Aggregated struct {
	ids        []string
	indicators []string
	raw        map[string]values.Column
}

// Indicators lists the aggregated indicator codes.
func (a *Aggregated) Indicators() []string {
	return append([]string(nil), a.indicators...)
}

// Raw returns the aggregated column of an indicator, nil when it was not aggregated.
func (a *Aggregated) Raw(code string) values.Column {
	return a.raw[code]
}

// Aggregate joins grid points to communes and reduces each indicator per commune. With no
// requested codes every available indicator is aggregated; a requested code absent from the
// grid is a configuration error.
func (p *Pipeline) Aggregate(g *Grid, c *processor.Communes, requested ...string) (*Aggregated, error) {
	codes := g.available
	if len(requested) > 0 {
		var missing []string
		for _, code := range requested {
			if !g.points.HasField(code) {
				missing = append(missing, code)
			}
		}
		if len(missing) > 0 {
			return nil, failure.New(failure.Configuration,
				eris.Errorf("climate: indicators not found in grid: %v", missing))
		}
		codes = requested
	}

	raw, err := processor.AggregatePoints(c, g.points, codes, p.Aggregation, p.Projector)
	if err != nil {
		return nil, eris.Wrap(err, "climate: aggregate")
	}
	return &Aggregated{ids: c.IDs(), indicators: append([]string(nil), codes...), raw: raw}, nil
}

// IndicatorScores is the output of ScoreIndicators: 0–100 scores per indicator.
type IndicatorScores struct {
	ids    []string
	scores map[string]values.Column
}

// Score returns the score column of an indicator, nil when it was not scored.
func (s *IndicatorScores) Score(code string) values.Column {
	return s.scores[code]
}

// Indicators lists the scored indicator codes, sorted.
func (s *IndicatorScores) Indicators() []string {
	codes := make([]string, 0, len(s.scores))
	for code := range s.scores {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Measured reports whether any indicator has a score for the commune.
func (s *IndicatorScores) Measured(id string) bool {
	for _, col := range s.scores {
		if col.Get(id).Valid {
			return true
		}
	}
	return false
}

// ScoreIndicators normalizes every aggregated indicator over [0, Max] of its table entry.
// Indicators without a table entry are not scored.
func (p *Pipeline) ScoreIndicators(a *Aggregated) *IndicatorScores {
	out := &IndicatorScores{ids: a.ids, scores: make(map[string]values.Column, len(a.indicators))}
	for _, code := range a.indicators {
		ind, ok := p.Indicator(code)
		if !ok {
			continue
		}
		out.scores[code] = score.NormalizeColumn(a.raw[code], 0, ind.Max, ind.Invert)
	}
	return out
}

// Composite combines indicator scores per commune with the weighted global formula.
// weights override the default indicator weights per code. Communes without any scored
// indicator get the neutral score.
func (p *Pipeline) Composite(s *IndicatorScores, weights map[string]float64) values.Column {
	w := p.DefaultWeights()
	for code, v := range weights {
		w[code] = v
	}

	out := make(values.Column, len(s.ids))
	row := make(map[string]values.Float, len(s.scores))
	for _, id := range s.ids {
		for code, col := range s.scores {
			row[code] = col.Get(id)
		}
		out[id] = values.Of(score.WeightedGlobal(row, w))
	}
	return out
}

// Result holds every stage output of a full run.
type Result struct {
	Aggregated *Aggregated
	Scores     *IndicatorScores
	Composite  values.Column
}

// Category returns the composite as a scoring category: communes without any measured
// indicator are missing instead of neutral.
func (r *Result) Category() values.Column {
	out := make(values.Column, len(r.Composite))
	for id, v := range r.Composite {
		if !r.Scores.Measured(id) {
			v = values.Missing()
		}
		out[id] = v
	}
	return out
}

// Run executes Aggregate, ScoreIndicators and Composite on a loaded grid.
func (p *Pipeline) Run(g *Grid, c *processor.Communes, weights map[string]float64) (*Result, error) {
	agg, err := p.Aggregate(g, c)
	if err != nil {
		return nil, err
	}
	scores := p.ScoreIndicators(agg)
	return &Result{
		Aggregated: agg,
		Scores:     scores,
		Composite:  p.Composite(scores, weights),
	}, nil
}
