package manifest

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vivabilite/internal/climate"
	"github.com/sells-group/vivabilite/internal/failure"
	"github.com/sells-group/vivabilite/internal/layer"
	"github.com/sells-group/vivabilite/internal/score"
	"github.com/sells-group/vivabilite/internal/source"
	"github.com/sells-group/vivabilite/internal/values"
)

// CommunesLayer is the layer name the commune file is registered under.
const CommunesLayer = "communes"

// DefaultMaxDistance is the distance scale in meters when a distance filter sets no max_value.
const DefaultMaxDistance = 50000.0

// ResolveFile resolves a manifest file entry against dataDir. Patterns containing glob
// metacharacters select the first match in lexical order. ok is false when nothing exists.
func ResolveFile(dataDir, file string) (path string, ok bool) {
	if file == "" {
		return "", false
	}
	p := file
	if !filepath.IsAbs(p) {
		p = filepath.Join(dataDir, p)
	}
	if strings.ContainsAny(file, "*?[{") {
		matches, err := doublestar.FilepathGlob(p)
		if err != nil || len(matches) == 0 {
			return p, false
		}
		sort.Strings(matches)
		return matches[0], true
	}
	if _, err := os.Stat(p); err != nil {
		return p, false
	}
	return p, true
}

// DatasetStatus reports the availability of one dataset.
type DatasetStatus struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	FileExists  bool   `json:"file_exists"`
	FilterCount int    `json:"filter_count"`
}

// Availability reports every dataset of m against dataDir.
func Availability(m *Manifest, dataDir string) []DatasetStatus {
	out := make([]DatasetStatus, 0, len(m.Datasets))
	for _, ds := range m.Datasets {
		_, ok := ResolveFile(dataDir, ds.File)
		out = append(out, DatasetStatus{
			ID:          ds.ID,
			Name:        ds.Name,
			Enabled:     ds.IsEnabled(),
			FileExists:  ok,
			FilterCount: len(ds.Filters),
		})
	}
	return out
}

// Apply registers the commune layer and every enabled dataset whose file exists, and
// defines one score per filter. Filters whose recipe cannot be built are logged and left
// out. It returns the available filters in manifest order.
func Apply(m *Manifest, dataDir string, layers *layer.Registry, defs *score.Definitions) []Filter {
	log := zap.L().With(zap.String("component", "manifest"))

	if path, ok := ResolveFile(dataDir, m.Communes.File); ok {
		layers.RegisterVector(CommunesLayer, path,
			layer.AsCommunes(m.Communes.IDColumn),
			layer.WithLayerName(m.Communes.Layer),
			layer.WithSRID(m.Communes.SRID),
			layer.WithDescription("Communes"),
		)
	} else if m.Communes.File != "" {
		log.Warn("manifest: commune file not found", zap.String("file", m.Communes.File))
	}

	var available []Filter
	for _, ds := range m.Datasets {
		dsLog := log.With(zap.String("dataset", ds.ID))
		if !ds.IsEnabled() {
			dsLog.Debug("manifest: dataset disabled")
			continue
		}
		path, ok := ResolveFile(dataDir, ds.File)
		if !ok {
			dsLog.Warn("manifest: dataset file not found", zap.String("file", ds.File))
			continue
		}
		if err := register(layers, ds, path, m.Communes.IDColumn); err != nil {
			dsLog.Warn("manifest: dataset skipped", zap.Error(err))
			continue
		}

		for _, f := range ds.Filters {
			recipe, err := Recipe(ds, f)
			if err != nil {
				dsLog.Warn("manifest: filter skipped", zap.String("filter", f.ID), zap.Error(err))
				continue
			}
			defs.Define(score.Definition{
				Category:    f.ID,
				Layer:       ds.ID,
				Description: f.Description,
				Recipe:      recipe,
			})
			available = append(available, f)
		}
	}

	log.Info("manifest: applied",
		zap.Int("datasets", len(m.Datasets)),
		zap.Int("filters", len(available)),
		zap.Bool("communes", layers.Communes() != nil),
	)
	return available
}

func register(layers *layer.Registry, ds Dataset, path, idColumn string) error {
	desc := layer.WithDescription(ds.Name)
	switch ds.Type {
	case TypePointGrid:
		format := source.FormatPointGrid
		if ds.Format == string(source.FormatMeteoFrance) {
			format = source.FormatMeteoFrance
		}
		layers.RegisterVector(ds.ID, path, desc, layer.WithFormat(format), layer.WithSRID(ds.SRID))
	case TypeShapefile, TypeGeoJSON, TypeGeoPackage:
		layers.RegisterVector(ds.ID, path, desc, layer.WithFormat(fileFormat(ds)), layer.WithSRID(ds.SRID))
	case TypeCSV, TypeXLSX:
		key := ds.KeyColumn
		if key == "" {
			key = idColumn
		}
		layers.RegisterTable(ds.ID, path, desc, layer.WithFormat(fileFormat(ds)),
			layer.WithKeyColumn(key), layer.WithSheet(ds.Sheet))
	case TypeRaster:
		layers.RegisterRaster(ds.ID, path, desc, layer.WithFormat(fileFormat(ds)), layer.WithSRID(ds.SRID))
	default:
		return failure.New(failure.Configuration, eris.Errorf("manifest: unknown dataset type %q", ds.Type))
	}
	return nil
}

func fileFormat(ds Dataset) source.Format {
	if ds.Format == "" || ds.Format == "auto" {
		return source.FormatAuto
	}
	return source.Format(ds.Format)
}

// DefaultMethod returns the scoring method used for a dataset type when a filter sets none.
func DefaultMethod(datasetType string) score.Method {
	switch datasetType {
	case TypePointGrid:
		return score.MethodAggregate
	case TypeShapefile, TypeGeoJSON, TypeGeoPackage:
		return score.MethodDistance
	case TypeCSV, TypeXLSX:
		return score.MethodNormalized
	case TypeRaster:
		return score.MethodZonal
	}
	return ""
}

// Recipe builds the score recipe of a filter. Bounds left unset in the manifest fall back to
// the climate indicator table for Météo-France grids, then to the observed range.
func Recipe(ds Dataset, f Filter) (score.Recipe, error) {
	method := score.Method(f.Method)
	if method == "" {
		method = DefaultMethod(ds.Type)
	}

	scale := score.Scale{Min: optional(f.MinValue), Max: optional(f.MaxValue), Invert: f.Invert}
	if ds.Format == string(source.FormatMeteoFrance) && !scale.Max.Valid {
		for _, ind := range climate.DefaultIndicators {
			if ind.Code == f.Column {
				scale.Min, scale.Max = values.Of(0), values.Of(ind.Max)
				break
			}
		}
	}

	agg, err := values.ParseStat(f.Aggregation)
	if err != nil {
		return nil, failure.New(failure.Configuration, eris.Wrapf(err, "manifest: filter %s", f.ID))
	}

	var r score.Recipe
	switch method {
	case score.MethodDistance:
		maxDist := DefaultMaxDistance
		if f.MaxValue != nil {
			maxDist = *f.MaxValue
		}
		r = score.Distance{Max: maxDist, FartherIsBetter: !f.Invert}
	case score.MethodPointSample:
		r = score.PointSample{Band: f.Band, Scale: scale}
	case score.MethodZonal:
		r = score.Zonal{Band: f.Band, Stat: agg, Scale: scale}
	case score.MethodNormalized:
		r = score.Normalized{Column: f.Column, Scale: scale}
	case score.MethodAggregate:
		r = score.Aggregate{Column: f.Column, Agg: agg, Scale: scale}
	case score.MethodClimate:
		r = score.Climate{Aggregation: agg}
	default:
		return nil, failure.New(failure.Configuration, eris.Errorf("manifest: filter %s has unknown method %q", f.ID, method))
	}

	def := score.Definition{Category: f.ID, Layer: ds.ID, Recipe: r}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func optional(p *float64) values.Float {
	if p == nil {
		return values.Missing()
	}
	return values.Of(*p)
}
