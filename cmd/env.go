package main

import (
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vivabilite/internal/climate"
	"github.com/sells-group/vivabilite/internal/engine"
	"github.com/sells-group/vivabilite/internal/layer"
	"github.com/sells-group/vivabilite/internal/manifest"
	"github.com/sells-group/vivabilite/internal/score"
	"github.com/sells-group/vivabilite/internal/service"
	"github.com/sells-group/vivabilite/internal/spatial"
	"github.com/sells-group/vivabilite/internal/values"
)

// scoringEnv holds the manifest and the service built on it for the score, commune,
// layers, climate and serve commands.
type scoringEnv struct {
	Manifest *manifest.Manifest
	Service  *service.Service
}

// initScoring validates the config for mode, loads the manifest and wires the layer
// registry, score definitions, engine and service.
func initScoring(mode string) (*scoringEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	path := cfg.Data.ManifestPath()
	m, err := manifest.Load(path)
	if err != nil {
		return nil, eris.Wrapf(err, "load manifest %s", path)
	}

	agg, err := values.ParseStat(cfg.Climate.Aggregation)
	if err != nil {
		return nil, eris.Wrap(err, "climate aggregation")
	}

	proj := spatial.NewProjector()
	layers := layer.NewRegistry(nil)
	defs := score.NewDefinitions()
	eng := engine.New(layers, defs, proj,
		engine.WithConcurrency(cfg.Score.Concurrency),
		engine.WithSegmentMaxLength(cfg.Score.SegmentMaxLengthM),
		engine.WithClimate(climate.New(proj, climate.WithAggregation(agg))),
	)
	svc := service.New(m, cfg.Data.Dir, layers, defs, eng)

	zap.L().Debug("scoring initialized",
		zap.String("manifest", path),
		zap.String("data_dir", cfg.Data.Dir),
		zap.Int("filters", len(svc.ListAvailableFilters())),
	)
	return &scoringEnv{Manifest: m, Service: svc}, nil
}

// parseWeights parses "a=50,b=20". An empty string yields nil (default weights).
func parseWeights(s string) (map[string]float64, error) {
	pairs := splitAndTrim(s)
	if len(pairs) == 0 {
		return nil, nil
	}
	weights := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		id, raw, ok := strings.Cut(p, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, eris.Errorf("weights: %q is not id=weight", p)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "weights: %s", id)
		}
		if w < 0 || w > 100 {
			return nil, eris.Errorf("weights: %s=%v outside [0, 100]", id, w)
		}
		weights[id] = w
	}
	return weights, nil
}

// mergeWeights overlays overrides on base.
func mergeWeights(base, overrides map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
