// Package source reads geospatial and tabular datasets from local files: shapefiles,
// GeoPackages, GeoJSON, ESRI ASCII grids, CSV/XLSX tables and Météo-France point grids.
package source

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/vivabilite/internal/failure"
	"github.com/sells-group/vivabilite/internal/spatial"
)

// Format identifies a file format.
type Format string

// Known formats. FormatAuto selects from the file extension.
const (
	FormatAuto        Format = ""
	FormatShapefile   Format = "shapefile"
	FormatGeoPackage  Format = "geopackage"
	FormatGeoJSON     Format = "geojson"
	FormatASCIIGrid   Format = "ascii_grid"
	FormatCSV         Format = "csv"
	FormatXLSX        Format = "xlsx"
	FormatPointGrid   Format = "point_grid"
	FormatMeteoFrance Format = "meteo_france"
)

// DetectFormat infers the format of path from its extension.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp", ".zip":
		return FormatShapefile
	case ".gpkg":
		return FormatGeoPackage
	case ".geojson", ".json":
		return FormatGeoJSON
	case ".asc":
		return FormatASCIIGrid
	case ".csv", ".tsv":
		return FormatCSV
	case ".xlsx":
		return FormatXLSX
	case ".txt":
		return FormatPointGrid
	default:
		return FormatAuto
	}
}

// VectorOptions configures a vector read.
type VectorOptions struct {
	Format  Format
	SRID    int    // overrides the SRID declared by the file when non-zero
	Layer   string // GeoPackage table; first feature table when empty
	IDField string // attribute used as Feature.ID; record index when empty
}

// RasterOptions configures a raster read.
type RasterOptions struct {
	Format Format
	SRID   int
}

// TableOptions configures an attribute table read.
type TableOptions struct {
	Format    Format
	KeyColumn string // first column when empty
	Sheet     string // XLSX sheet; first sheet when empty
}

// Reader loads datasets from paths.
type Reader interface {
	ReadVector(ctx context.Context, path string, opts VectorOptions) (*spatial.FeatureCollection, error)
	ReadRaster(ctx context.Context, path string, opts RasterOptions) (*spatial.Grid, error)
	ReadTable(ctx context.Context, path string, opts TableOptions) (*Table, error)
}

// Files is the Reader for the local filesystem.
type Files struct{}

// NewFiles returns a filesystem Reader.
func NewFiles() Files {
	return Files{}
}

// ReadVector implements Reader.
func (Files) ReadVector(ctx context.Context, path string, opts VectorOptions) (*spatial.FeatureCollection, error) {
	if err := checkFile(ctx, path); err != nil {
		return nil, err
	}

	format := opts.Format
	if format == FormatAuto {
		format = DetectFormat(path)
	}

	var (
		fc  *spatial.FeatureCollection
		err error
	)
	switch format {
	case FormatShapefile:
		fc, err = ReadShapefile(path, opts)
	case FormatGeoPackage:
		fc, err = ReadGeoPackage(ctx, path, opts)
	case FormatGeoJSON:
		fc, err = ReadGeoJSON(path, opts)
	case FormatPointGrid, FormatMeteoFrance, FormatCSV:
		fc, err = ReadPointGrid(path, opts)
	default:
		return nil, unsupported(path, format)
	}
	if err != nil {
		return nil, classify(err)
	}
	return fc, nil
}

// ReadRaster implements Reader.
func (Files) ReadRaster(ctx context.Context, path string, opts RasterOptions) (*spatial.Grid, error) {
	if err := checkFile(ctx, path); err != nil {
		return nil, err
	}

	format := opts.Format
	if format == FormatAuto {
		format = DetectFormat(path)
	}
	if format != FormatASCIIGrid {
		return nil, unsupported(path, format)
	}

	g, err := ReadASCIIGrid(path, opts.SRID)
	if err != nil {
		return nil, classify(err)
	}
	return g, nil
}

// ReadTable implements Reader.
func (Files) ReadTable(ctx context.Context, path string, opts TableOptions) (*Table, error) {
	if err := checkFile(ctx, path); err != nil {
		return nil, err
	}

	format := opts.Format
	if format == FormatAuto {
		format = DetectFormat(path)
	}

	var (
		t   *Table
		err error
	)
	switch format {
	case FormatCSV, FormatPointGrid:
		t, err = ReadCSVTable(path, opts.KeyColumn)
	case FormatXLSX:
		t, err = ReadXLSXTable(path, opts.KeyColumn, opts.Sheet)
	default:
		return nil, unsupported(path, format)
	}
	if err != nil {
		return nil, classify(err)
	}
	return t, nil
}

func checkFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "source: context cancelled")
	}
	if _, err := os.Stat(path); err != nil {
		return failure.New(failure.DataUnavailable, eris.Wrapf(err, "source: stat %s", path))
	}
	return nil
}

func unsupported(path string, format Format) error {
	if format == FormatAuto {
		return failure.New(failure.UnsupportedFormat, eris.Errorf("source: cannot infer format of %s", path))
	}
	return failure.New(failure.UnsupportedFormat, eris.Errorf("source: format %q not supported for %s", format, path))
}

// classify tags parse errors as UnsupportedFormat unless already classified.
func classify(err error) error {
	if _, ok := failure.KindOf(err); ok {
		return err
	}
	return failure.New(failure.UnsupportedFormat, err)
}

// decodeText returns b as UTF-8. French open data files are often Latin-1; anything that is
// not valid UTF-8 is decoded as ISO-8859-1. A UTF-8 byte order mark is dropped.
func decodeText(b []byte) []byte {
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	if utf8.Valid(b) {
		return b
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return b
	}
	return out
}

// readText reads a whole text file as UTF-8.
func readText(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.New(failure.DataUnavailable, eris.Wrapf(err, "source: read %s", path))
	}
	return decodeText(b), nil
}

// cleanAttr trims DBF padding and decodes Latin-1 attribute text.
func cleanAttr(s string) string {
	s = strings.TrimRight(s, "\x00")
	return strings.TrimSpace(string(decodeText([]byte(s))))
}
