package source

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/vivabilite/internal/spatial"
)

var (
	latNames = []string{"latitude", "lat"}
	lonNames = []string{"longitude", "lon", "lng"}
)

// ReadPointGrid reads a delimited point grid such as the Météo-France DRIAS exports:
// '#' comment lines, a header row naming Latitude and Longitude, then one row per grid
// point with indicator columns. Rows without valid coordinates are skipped. Coordinates are
// WGS84 unless opts.SRID says otherwise.
func ReadPointGrid(path string, opts VectorOptions) (*spatial.FeatureCollection, error) {
	b, err := readText(path)
	if err != nil {
		return nil, err
	}
	records, err := readDelimited(b)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read point grid %s", path)
	}

	header, body := splitHeader(records)
	if header == nil {
		// DRIAS sometimes ships the header as the last comment line.
		if h := commentHeader(b); h != nil {
			header, body = h, records
		}
	}
	if header == nil {
		return nil, eris.Errorf("source: point grid %s has no latitude/longitude header", path)
	}

	latIdx, lonIdx := columnIndex(header, latNames), columnIndex(header, lonNames)

	fc := &spatial.FeatureCollection{SRID: spatial.WGS84}
	if opts.SRID != 0 {
		fc.SRID = opts.SRID
	}
	for _, h := range header {
		if h != "" {
			fc.Fields = append(fc.Fields, h)
		}
	}

	var skipped int
	for i, row := range body {
		if latIdx >= len(row) || lonIdx >= len(row) {
			skipped++
			continue
		}
		lat := spatial.ParseFloat(row[latIdx])
		lon := spatial.ParseFloat(row[lonIdx])
		if !lat.Valid || !lon.Valid {
			skipped++
			continue
		}

		props := make(map[string]string, len(header))
		for j, h := range header {
			if h == "" || j >= len(row) {
				continue
			}
			props[h] = strings.TrimSpace(row[j])
		}

		f := spatial.Feature{
			Geom:  geom.NewPointFlat(geom.XY, []float64{lon.Value, lat.Value}),
			Props: props,
		}
		switch {
		case opts.IDField != "":
			f.ID = f.Prop(opts.IDField)
		case f.Prop("Point") != "":
			f.ID = f.Prop("Point")
		default:
			f.ID = strconv.Itoa(i)
		}
		fc.Features = append(fc.Features, f)
	}

	if skipped > 0 {
		zap.L().Debug("source: skipped point grid rows",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return fc, nil
}

// splitHeader finds the first record naming both coordinate columns.
func splitHeader(records [][]string) ([]string, [][]string) {
	for i, rec := range records {
		if columnIndex(rec, latNames) >= 0 && columnIndex(rec, lonNames) >= 0 {
			return trimAll(rec), records[i+1:]
		}
	}
	return nil, nil
}

func commentHeader(b []byte) []string {
	var header []string
	for _, line := range strings.Split(string(b), "\n") {
		t := strings.TrimSpace(line)
		if !strings.HasPrefix(t, "#") {
			continue
		}
		t = strings.TrimSpace(strings.TrimLeft(t, "#"))
		fields := strings.Split(t, string(sniffDelimiter([]byte(t))))
		if columnIndex(fields, latNames) >= 0 && columnIndex(fields, lonNames) >= 0 {
			header = trimAll(fields)
		}
	}
	return header
}

func columnIndex(header []string, names []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, n := range names {
			if h == n {
				return i
			}
		}
	}
	return -1
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
