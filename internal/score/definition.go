package score

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vivabilite/internal/failure"
	"github.com/sells-group/vivabilite/internal/values"
)

// Method names the processor a recipe runs.
type Method string

// Scoring methods.
const (
	MethodDistance    Method = "distance"
	MethodPointSample Method = "point_sample"
	MethodZonal       Method = "zonal"
	MethodNormalized  Method = "normalized"
	MethodAggregate   Method = "aggregate"
	MethodClimate     Method = "climate"
)

// Recipe is the method-specific part of a Definition. The set of recipes is closed.
type Recipe interface {
	Method() Method
	// Score turns the raw column produced by the method's processor into 0–100 scores.
	Score(raw values.Column) values.Column
	validate() error
}

// Scale is a linear normalization range. Missing bounds are taken from the observed
// range of the raw column.
type Scale struct {
	Min    values.Float
	Max    values.Float
	Invert bool
}

// Apply normalizes raw over the scale.
func (s Scale) Apply(raw values.Column) values.Column {
	lo, hi := s.Min, s.Max
	if !lo.Valid || !hi.Valid {
		omin, omax, ok := Range(raw)
		if !ok {
			return NormalizeColumn(raw, 0, 0, s.Invert)
		}
		if !lo.Valid {
			lo = values.Of(omin)
		}
		if !hi.Valid {
			hi = values.Of(omax)
		}
	}
	return NormalizeColumn(raw, lo.Value, hi.Value, s.Invert)
}

// Distance scores the distance in meters from a commune to the nearest feature of a layer.
// Distances are scaled over [0, Max]; nearer is better unless FartherIsBetter.
type Distance struct {
	Max             float64
	FartherIsBetter bool
}

// Method implements Recipe.
func (Distance) Method() Method { return MethodDistance }

// Score implements Recipe.
func (r Distance) Score(raw values.Column) values.Column {
	return NormalizeColumn(raw, 0, r.Max, !r.FartherIsBetter)
}

func (r Distance) validate() error {
	if !(r.Max > 0) {
		return eris.Errorf("score: distance max must be positive, got %v", r.Max)
	}
	return nil
}

// PointSample scores the raster value under the commune centroid.
type PointSample struct {
	Band int // 1-based; 0 selects the first band
	Scale
}

// Method implements Recipe.
func (PointSample) Method() Method { return MethodPointSample }

// Score implements Recipe.
func (r PointSample) Score(raw values.Column) values.Column { return r.Apply(raw) }

func (r PointSample) validate() error { return validateBand(r.Band) }

// Zonal scores a statistic of the raster cells inside the commune.
type Zonal struct {
	Band int
	Stat values.Stat // empty selects mean
	Scale
}

// Method implements Recipe.
func (Zonal) Method() Method { return MethodZonal }

// Score implements Recipe.
func (r Zonal) Score(raw values.Column) values.Column { return r.Apply(raw) }

func (r Zonal) validate() error {
	if err := validateBand(r.Band); err != nil {
		return err
	}
	return validateStat(r.Stat)
}

// Normalized scores a numeric column of an attribute table (or of the commune layer).
type Normalized struct {
	Column string
	Scale
}

// Method implements Recipe.
func (Normalized) Method() Method { return MethodNormalized }

// Score implements Recipe.
func (r Normalized) Score(raw values.Column) values.Column { return r.Apply(raw) }

func (r Normalized) validate() error {
	if r.Column == "" {
		return eris.New("score: normalized recipe needs a column")
	}
	return nil
}

// Aggregate scores a field of a point grid aggregated over the points inside each commune.
type Aggregate struct {
	Column string
	Agg    values.Stat // empty selects mean
	Scale
}

// Method implements Recipe.
func (Aggregate) Method() Method { return MethodAggregate }

// Score implements Recipe.
func (r Aggregate) Score(raw values.Column) values.Column { return r.Apply(raw) }

func (r Aggregate) validate() error {
	if r.Column == "" {
		return eris.New("score: aggregate recipe needs a column")
	}
	if r.Agg == values.Count {
		return nil
	}
	return validateStat(r.Agg)
}

// Climate scores the climate composite of a point-grid layer. Weights override the default
// indicator weights; Aggregation overrides the configured point aggregation.
type Climate struct {
	Weights     map[string]float64
	Aggregation values.Stat
}

// Method implements Recipe.
func (Climate) Method() Method { return MethodClimate }

// Score implements Recipe. The climate composite is already on the 0–100 scale.
func (Climate) Score(raw values.Column) values.Column { return raw }

func (r Climate) validate() error { return validateStat(r.Aggregation) }

func validateBand(b int) error {
	if b < 0 {
		return eris.Errorf("score: invalid band %d", b)
	}
	return nil
}

func validateStat(s values.Stat) error {
	if s == "" || s.Valid() {
		return nil
	}
	return eris.Errorf("score: unknown statistic %q", s)
}

// Definition binds a category to a layer and a recipe.
type Definition struct {
	Category    string
	Layer       string
	Description string
	Recipe      Recipe
}

// Method returns the recipe method, or "" without a recipe.
func (d Definition) Method() Method {
	if d.Recipe == nil {
		return ""
	}
	return d.Recipe.Method()
}

// Validate checks the definition parameters. It does not check that the layer exists.
func (d Definition) Validate() error {
	if d.Category == "" {
		return failure.New(failure.Configuration, eris.New("score: definition without category"))
	}
	if d.Layer == "" {
		return failure.New(failure.Configuration, eris.Errorf("score: %s has no layer", d.Category))
	}
	if d.Recipe == nil {
		return failure.New(failure.Configuration, eris.Errorf("score: %s has no recipe", d.Category))
	}
	if err := d.Recipe.validate(); err != nil {
		return failure.New(failure.Configuration, eris.Wrapf(err, "score: %s", d.Category))
	}
	return nil
}

// Definitions maps categories to their definitions. Safe for concurrent use.
type Definitions struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewDefinitions creates an empty registry.
func NewDefinitions() *Definitions {
	return &Definitions{defs: make(map[string]Definition)}
}

// Define registers d, replacing any definition of the same category.
func (r *Definitions) Define(d Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[d.Category] = d
}

// Get returns the definition of a category.
func (r *Definitions) Get(category string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[category]
	return d, ok
}

// Categories returns the defined categories, sorted.
func (r *Definitions) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for c := range r.defs {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// All returns every definition, sorted by category.
func (r *Definitions) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// Len returns the number of definitions.
func (r *Definitions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
