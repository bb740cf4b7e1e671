// Package manifest reads the dataset manifest that declares the commune layer, the datasets
// and the score filters built on them.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/vivabilite/internal/failure"
)

// Default filter values.
const (
	DefaultWeight = 50.0
	DefaultIcon   = "📊"
)

// Dataset types.
const (
	TypePointGrid  = "point_grid"
	TypeShapefile  = "shapefile"
	TypeGeoJSON    = "geojson"
	TypeGeoPackage = "geopackage"
	TypeCSV        = "csv"
	TypeXLSX       = "xlsx"
	TypeRaster     = "raster"
)

// Manifest is the top-level manifest document.
type Manifest struct {
	Version       string        `json:"version" yaml:"version"`
	Description   string        `json:"description" yaml:"description"`
	Communes      Communes      `json:"communes" yaml:"communes"`
	Datasets      []Dataset     `json:"datasets" yaml:"datasets"`
	ReferenceData ReferenceData `json:"reference_data" yaml:"reference_data"`
}

// Communes configures the commune layer and its attribute columns.
type Communes struct {
	File                 string `json:"file" yaml:"file"`
	Layer                string `json:"layer" yaml:"layer"` // GeoPackage table
	SRID                 int    `json:"srid" yaml:"srid"`
	IDColumn             string `json:"id_column" yaml:"id_column"`
	NameColumn           string `json:"name_column" yaml:"name_column"`
	PopulationColumn     string `json:"population_column" yaml:"population_column"`
	DepartmentColumn     string `json:"department_column" yaml:"department_column"`
	DepartmentCodeColumn string `json:"department_code_column" yaml:"department_code_column"`
	RegionColumn         string `json:"region_column" yaml:"region_column"`
	RegionCodeColumn     string `json:"region_code_column" yaml:"region_code_column"`
}

// Dataset declares one data file and the filters scored from it.
type Dataset struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	File        string   `json:"file" yaml:"file"` // relative to the data dir; may be a glob
	Type        string   `json:"type" yaml:"type"`
	Format      string   `json:"format" yaml:"format"` // auto or meteo_france
	Enabled     *bool    `json:"enabled" yaml:"enabled"`
	SRID        int      `json:"srid" yaml:"srid"`
	KeyColumn   string   `json:"key_column" yaml:"key_column"`
	Sheet       string   `json:"sheet" yaml:"sheet"`
	Filters     []Filter `json:"filters" yaml:"filters"`
}

// IsEnabled reports whether the dataset is enabled. Datasets are enabled unless set otherwise.
func (d Dataset) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Filter is one score category exposed to users.
type Filter struct {
	ID            string    `json:"id" yaml:"id"`
	Name          string    `json:"name" yaml:"name"`
	Description   string    `json:"description" yaml:"description"`
	Column        string    `json:"column" yaml:"column"`
	Invert        bool      `json:"invert" yaml:"invert"`
	Icon          string    `json:"icon" yaml:"icon"`
	Unit          string    `json:"unit,omitempty" yaml:"unit"`
	WeightDefault *float64  `json:"weight_default" yaml:"weight_default"`
	MinValue      *float64  `json:"min_value,omitempty" yaml:"min_value"`
	MaxValue      *float64  `json:"max_value,omitempty" yaml:"max_value"`
	OptimalRange  []float64 `json:"optimal_range,omitempty" yaml:"optimal_range"`
	Method        string    `json:"method,omitempty" yaml:"method"`
	Aggregation   string    `json:"aggregation,omitempty" yaml:"aggregation"`
	Band          int       `json:"band,omitempty" yaml:"band"`
	DatasetID     string    `json:"dataset_id" yaml:"-"`
}

// Weight returns the default weight of the filter.
func (f Filter) Weight() float64 {
	if f.WeightDefault == nil {
		return DefaultWeight
	}
	return *f.WeightDefault
}

// ReferenceData holds static lookup lists.
type ReferenceData struct {
	Regions          []map[string]string `json:"regions" yaml:"regions"`
	DepartementsFile string              `json:"departements_file" yaml:"departements_file"`
}

// Load reads a JSON or YAML manifest. A missing file yields an empty manifest; a malformed
// one is a configuration error.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		m := &Manifest{}
		m.applyDefaults()
		return m, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "manifest: read %s", path)
	}
	m, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, eris.Wrapf(err, "manifest: parse %s", path)
	}
	return m, nil
}

// Parse decodes a manifest. ext selects YAML for ".yaml" and ".yml", JSON otherwise.
func Parse(data []byte, ext string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, failure.New(failure.Configuration, eris.Wrap(err, "manifest: yaml"))
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&m); err != nil {
			return nil, failure.New(failure.Configuration, eris.Wrap(err, "manifest: json"))
		}
	}
	if err := m.validate(); err != nil {
		return nil, failure.New(failure.Configuration, err)
	}
	m.applyDefaults()
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Version == "" {
		m.Version = "1.0"
	}
	c := &m.Communes
	setDefault(&c.IDColumn, "code_insee")
	setDefault(&c.NameColumn, "nom")
	setDefault(&c.PopulationColumn, "population")
	setDefault(&c.DepartmentColumn, "departement")
	setDefault(&c.DepartmentCodeColumn, "departement_code")
	setDefault(&c.RegionColumn, "region")
	setDefault(&c.RegionCodeColumn, "region_code")

	for i := range m.Datasets {
		ds := &m.Datasets[i]
		setDefault(&ds.Format, "auto")
		for j := range ds.Filters {
			f := &ds.Filters[j]
			f.DatasetID = ds.ID
			setDefault(&f.Icon, DefaultIcon)
			if f.WeightDefault == nil {
				w := DefaultWeight
				f.WeightDefault = &w
			}
		}
	}
}

func (m *Manifest) validate() error {
	seenDS := make(map[string]bool, len(m.Datasets))
	seenF := make(map[string]string)
	for i, ds := range m.Datasets {
		if ds.ID == "" {
			return eris.Errorf("manifest: dataset %d has no id", i)
		}
		if ds.ID == CommunesLayer {
			return eris.Errorf("manifest: dataset id %q is reserved", ds.ID)
		}
		if seenDS[ds.ID] {
			return eris.Errorf("manifest: duplicate dataset %q", ds.ID)
		}
		seenDS[ds.ID] = true
		if ds.File == "" {
			return eris.Errorf("manifest: dataset %q has no file", ds.ID)
		}
		for j, f := range ds.Filters {
			if f.ID == "" {
				return eris.Errorf("manifest: filter %d of %q has no id", j, ds.ID)
			}
			if other, ok := seenF[f.ID]; ok {
				return eris.Errorf("manifest: filter %q declared by %q and %q", f.ID, other, ds.ID)
			}
			seenF[f.ID] = ds.ID
			if w := f.WeightDefault; w != nil && (*w < 0 || *w > 100) {
				return eris.Errorf("manifest: filter %q weight_default %v outside [0, 100]", f.ID, *w)
			}
		}
	}
	return nil
}

// Dataset returns the dataset with the given id.
func (m *Manifest) Dataset(id string) (Dataset, bool) {
	for _, ds := range m.Datasets {
		if ds.ID == id {
			return ds, true
		}
	}
	return Dataset{}, false
}

func setDefault(s *string, def string) {
	if *s == "" {
		*s = def
	}
}
