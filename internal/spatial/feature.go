// Package spatial holds the in-memory geometry and raster containers shared by loaders and
// processors, plus projection and spatial index helpers.
package spatial

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/vivabilite/internal/values"
)

// Feature is one geometry with its attributes.
type Feature struct {
	ID    string
	Geom  geom.T
	Props map[string]string
}

// Prop returns the attribute value for name. The exact key wins, otherwise the lookup is
// case-insensitive (shapefile DBF fields are usually upper case).
func (f Feature) Prop(name string) string {
	if v, ok := f.Props[name]; ok {
		return v
	}
	for k, v := range f.Props {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Float parses the attribute as a number. French decimal commas are accepted.
func (f Feature) Float(name string) values.Float {
	return ParseFloat(f.Prop(name))
}

// ParseFloat parses s as a float, returning missing for empty or malformed input.
func ParseFloat(s string) values.Float {
	s = strings.TrimSpace(s)
	if s == "" {
		return values.Missing()
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return values.Missing()
	}
	return values.Of(v)
}

// FeatureCollection is a loaded vector dataset.
type FeatureCollection struct {
	SRID     int
	Fields   []string
	Features []Feature
}

// Len returns the number of features.
func (fc *FeatureCollection) Len() int {
	if fc == nil {
		return 0
	}
	return len(fc.Features)
}

// HasField reports whether the collection declares the field (case-insensitive).
func (fc *FeatureCollection) HasField(name string) bool {
	for _, f := range fc.Fields {
		if strings.EqualFold(f, name) {
			return true
		}
	}
	return false
}

// Grid is a georeferenced raster with one or more bands stored row-major from the top row.
type Grid struct {
	SRID       int
	Cols       int
	Rows       int
	OriginX    float64 // x of the upper-left corner
	OriginY    float64 // y of the upper-left corner
	CellWidth  float64
	CellHeight float64 // positive; rows grow southwards
	NoData     values.Float
	Bands      [][]float64
}

// NumBands returns the number of bands.
func (g *Grid) NumBands() int {
	return len(g.Bands)
}

// Band returns the 1-based band data.
func (g *Grid) Band(band int) ([]float64, error) {
	if band < 1 || band > len(g.Bands) {
		return nil, eris.Errorf("spatial: band %d out of range (grid has %d bands)", band, len(g.Bands))
	}
	return g.Bands[band-1], nil
}

// Cell returns the column and row of the cell containing (x, y).
func (g *Grid) Cell(x, y float64) (col, row int, ok bool) {
	if g.CellWidth <= 0 || g.CellHeight <= 0 {
		return 0, 0, false
	}
	fc := (x - g.OriginX) / g.CellWidth
	fr := (g.OriginY - y) / g.CellHeight
	if fc < 0 || fr < 0 {
		return 0, 0, false
	}
	col, row = int(fc), int(fr)
	if col >= g.Cols || row >= g.Rows {
		return 0, 0, false
	}
	return col, row, true
}

// Center returns the coordinates of the center of a cell.
func (g *Grid) Center(col, row int) (x, y float64) {
	return g.OriginX + (float64(col)+0.5)*g.CellWidth, g.OriginY - (float64(row)+0.5)*g.CellHeight
}

// Value returns the cell value of band data, missing for nodata or NaN.
func (g *Grid) Value(data []float64, col, row int) values.Float {
	v := data[row*g.Cols+col]
	if g.NoData.Valid && v == g.NoData.Value {
		return values.Missing()
	}
	return values.Of(v)
}

// Extent returns the grid bounding box.
func (g *Grid) Extent() Box {
	return Box{
		MinX: g.OriginX,
		MinY: g.OriginY - float64(g.Rows)*g.CellHeight,
		MaxX: g.OriginX + float64(g.Cols)*g.CellWidth,
		MaxY: g.OriginY,
	}
}
