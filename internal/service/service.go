// Package service is the entry point used by the CLI and the HTTP API: it applies the
// manifest, caches category scores and recomputes global scores for the caller's weights.
package service

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/vivabilite/internal/engine"
	"github.com/sells-group/vivabilite/internal/failure"
	"github.com/sells-group/vivabilite/internal/layer"
	"github.com/sells-group/vivabilite/internal/manifest"
	"github.com/sells-group/vivabilite/internal/processor"
	"github.com/sells-group/vivabilite/internal/score"
	"github.com/sells-group/vivabilite/internal/values"
)

// Coordinates is a WGS84 position.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Commune is one scored commune.
type Commune struct {
	Code           string             `json:"code_insee"`
	Name           string             `json:"nom"`
	Department     string             `json:"departement"`
	DepartmentCode string             `json:"departement_code"`
	Region         string             `json:"region"`
	RegionCode     string             `json:"region_code"`
	Population     int                `json:"population"`
	Coordinates    Coordinates        `json:"coordinates"`
	Scores         map[string]float64 `json:"scores"`
	ScoreGlobal    float64            `json:"score_global"`
}

// Status describes data availability.
type Status struct {
	CommunesAvailable bool                     `json:"communes_available"`
	CommunesFile      string                   `json:"communes_file"`
	Datasets          []manifest.DatasetStatus `json:"datasets"`
	FilterCount       int                      `json:"filter_count"`
	Ready             bool                     `json:"ready"`
}

// scored is the cached output of one engine run.
type scored struct {
	communes *processor.Communes
	result   *engine.Result
	outlines map[bool]map[string]geom.T // WGS84, keyed by simplified
}

// Service scores communes from the datasets of a manifest. Safe for concurrent use.
type Service struct {
	manifest *manifest.Manifest
	dataDir  string
	layers   *layer.Registry
	defs     *score.Definitions
	engine   *engine.Engine
	filters  []manifest.Filter

	mu    sync.Mutex
	cache *scored
}

// New applies m to the registries and returns a Service over them. eng must be built on the
// same registries.
func New(m *manifest.Manifest, dataDir string, layers *layer.Registry, defs *score.Definitions, eng *engine.Engine) *Service {
	return &Service{
		manifest: m,
		dataDir:  dataDir,
		layers:   layers,
		defs:     defs,
		engine:   eng,
		filters:  manifest.Apply(m, dataDir, layers, defs),
	}
}

// ListAvailableFilters returns the filters of enabled datasets whose file exists.
func (s *Service) ListAvailableFilters() []manifest.Filter {
	return append([]manifest.Filter(nil), s.filters...)
}

// Filter returns an available filter by id.
func (s *Service) Filter(id string) (manifest.Filter, bool) {
	for _, f := range s.filters {
		if f.ID == id {
			return f, true
		}
	}
	return manifest.Filter{}, false
}

// DefaultWeights returns the default weight of every available filter.
func (s *Service) DefaultWeights() map[string]float64 {
	w := make(map[string]float64, len(s.filters))
	for _, f := range s.filters {
		w[f.ID] = f.Weight()
	}
	return w
}

// Layers returns the layer registry.
func (s *Service) Layers() *layer.Registry {
	return s.layers
}

// Definitions returns the score definitions.
func (s *Service) Definitions() *score.Definitions {
	return s.defs
}

// Engine returns the scoring engine.
func (s *Service) Engine() *engine.Engine {
	return s.engine
}

// load returns the cached engine run, computing it on first use. It returns nil without
// error when the commune layer is unavailable.
func (s *Service) load(ctx context.Context) (*scored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil {
		return s.cache, nil
	}
	if s.layers.Communes() == nil {
		return nil, nil
	}

	c, err := s.engine.Communes(ctx)
	if err != nil {
		if failure.Recoverable(err) {
			zap.L().Warn("service: communes unavailable", zap.Error(err))
			return nil, nil
		}
		return nil, eris.Wrap(err, "service: communes")
	}
	res, err := s.engine.ComputeAll(ctx, c)
	if err != nil {
		return nil, eris.Wrap(err, "service: compute scores")
	}
	s.cache = &scored{communes: c, result: res}
	return s.cache, nil
}

// Result returns the cached engine result, nil when no commune data is available.
func (s *Service) Result(ctx context.Context) (*engine.Result, error) {
	sc, err := s.load(ctx)
	if err != nil || sc == nil {
		return nil, err
	}
	return sc.result, nil
}

// ComputeAllScores scores every commune with weights, or the default weights when nil.
// Communes are returned in layer order; the result is empty without commune data.
func (s *Service) ComputeAllScores(ctx context.Context, weights map[string]float64) ([]Commune, error) {
	sc, err := s.load(ctx)
	if err != nil || sc == nil {
		return []Commune{}, err
	}
	if weights == nil {
		weights = s.DefaultWeights()
	}

	global := sc.result.Global(weights)
	out := make([]Commune, 0, len(sc.communes.Items))
	for i := range sc.communes.Items {
		it := &sc.communes.Items[i]
		out = append(out, s.record(it, sc.result, global[it.ID]))
	}
	return out, nil
}

// CommuneDetail returns one commune scored with weights (defaults when nil), or nil when the
// code is unknown.
func (s *Service) CommuneDetail(ctx context.Context, code string, weights map[string]float64) (*Commune, error) {
	sc, err := s.load(ctx)
	if err != nil || sc == nil {
		return nil, err
	}
	it, ok := sc.communes.Get(code)
	if !ok {
		return nil, nil
	}
	if weights == nil {
		weights = s.DefaultWeights()
	}
	g := values.Of(score.WeightedGlobal(sc.result.Row(code), weights))
	c := s.record(it, sc.result, g)
	return &c, nil
}

// Status reports which data files are present.
func (s *Service) Status() Status {
	_, ok := manifest.ResolveFile(s.dataDir, s.manifest.Communes.File)
	st := Status{
		CommunesAvailable: ok,
		CommunesFile:      s.manifest.Communes.File,
		Datasets:          manifest.Availability(s.manifest, s.dataDir),
		FilterCount:       len(s.filters),
	}
	st.Ready = st.CommunesAvailable && st.FilterCount > 0
	return st
}

// Reset drops cached scores and every cached dataset.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
	s.layers.ClearCache()
	zap.L().Info("service: caches cleared")
}

func (s *Service) record(it *processor.Commune, res *engine.Result, global values.Float) Commune {
	cols := s.manifest.Communes
	f := it.Feature

	c := Commune{
		Code:           it.ID,
		Name:           f.Prop(cols.NameColumn),
		Department:     f.Prop(cols.DepartmentColumn),
		DepartmentCode: f.Prop(cols.DepartmentCodeColumn),
		Region:         f.Prop(cols.RegionColumn),
		RegionCode:     f.Prop(cols.RegionCodeColumn),
		Coordinates:    Coordinates{Lat: it.Lat, Lng: it.Lon},
		Scores:         make(map[string]float64, len(res.Scores)),
		ScoreGlobal:    score.Round1(global.Or(score.Neutral)),
	}
	if c.DepartmentCode == "" {
		c.DepartmentCode = departmentCode(it.ID)
	}
	if pop := f.Float(cols.PopulationColumn); pop.Valid {
		c.Population = int(pop.Value)
	}
	for cat, col := range res.Scores {
		if v := col.Get(it.ID); v.Valid {
			c.Scores[cat] = score.Round1(v.Value)
		}
	}
	return c
}

// departmentCode derives the department from an INSEE code: three digits overseas (97x),
// two otherwise, Corsica included (2A, 2B).
func departmentCode(insee string) string {
	if len(insee) != 5 {
		return ""
	}
	if insee[:2] == "97" {
		return insee[:3]
	}
	return insee[:2]
}
