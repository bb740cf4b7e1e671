package source

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/vivabilite/internal/failure"
	"github.com/sells-group/vivabilite/internal/spatial"
)

// gpkgEnvelopeSize maps the envelope indicator of a GeoPackage binary header to its byte size.
var gpkgEnvelopeSize = map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}

// ReadGeoPackage reads one feature table of a GeoPackage. opts.Layer selects the table; the
// first registered feature table is used otherwise.
func ReadGeoPackage(ctx context.Context, path string, opts VectorOptions) (*spatial.FeatureCollection, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open geopackage %s", path)
	}
	defer db.Close()

	table, geomCol, srid, err := gpkgLayer(ctx, db, opts.Layer)
	if err != nil {
		return nil, eris.Wrapf(err, "source: geopackage %s", path)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", quoteIdent(table)))
	if err != nil {
		return nil, eris.Wrapf(err, "source: query geopackage table %s", table)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, eris.Wrap(err, "source: geopackage columns")
	}

	fc := &spatial.FeatureCollection{SRID: srid}
	if opts.SRID != 0 {
		fc.SRID = opts.SRID
	}
	geomIdx := -1
	for i, c := range cols {
		if strings.EqualFold(c, geomCol) {
			geomIdx = i
			continue
		}
		fc.Fields = append(fc.Fields, c)
	}
	if geomIdx < 0 {
		return nil, failure.New(failure.UnsupportedFormat, eris.Errorf("source: geometry column %q not found in %s", geomCol, table))
	}

	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	var n, skipped int
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrap(err, "source: scan geopackage row")
		}

		blob, _ := raw[geomIdx].([]byte)
		g, err := decodeGPKGGeometry(blob)
		if err != nil || g == nil {
			skipped++
			n++
			continue
		}

		props := make(map[string]string, len(cols)-1)
		for i, c := range cols {
			if i == geomIdx {
				continue
			}
			props[c] = sqlString(raw[i])
		}

		f := spatial.Feature{Geom: g, Props: props}
		if opts.IDField != "" {
			f.ID = f.Prop(opts.IDField)
		} else {
			f.ID = strconv.Itoa(n)
		}
		fc.Features = append(fc.Features, f)
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: iterate geopackage rows")
	}

	if skipped > 0 {
		zap.L().Debug("source: skipped geopackage rows",
			zap.String("path", path),
			zap.String("table", table),
			zap.Int("skipped", skipped),
		)
	}
	return fc, nil
}

func gpkgLayer(ctx context.Context, db *sql.DB, layer string) (table, geomCol string, srid int, err error) {
	query := "SELECT table_name, column_name, srs_id FROM gpkg_geometry_columns"
	var args []any
	if layer != "" {
		query += " WHERE table_name = ?"
		args = append(args, layer)
	}
	query += " ORDER BY table_name LIMIT 1"

	err = db.QueryRowContext(ctx, query, args...).Scan(&table, &geomCol, &srid)
	if err == sql.ErrNoRows {
		if layer != "" {
			return "", "", 0, failure.New(failure.UnsupportedFormat, eris.Errorf("source: layer %q not found", layer))
		}
		return "", "", 0, failure.New(failure.UnsupportedFormat, eris.New("source: no feature table"))
	}
	if err != nil {
		return "", "", 0, failure.New(failure.UnsupportedFormat, eris.Wrap(err, "source: read gpkg_geometry_columns"))
	}
	return table, geomCol, srid, nil
}

// decodeGPKGGeometry strips the GeoPackage binary header and decodes the WKB body.
// Empty geometries decode to nil.
func decodeGPKGGeometry(b []byte) (geom.T, error) {
	if len(b) < 8 || b[0] != 'G' || b[1] != 'P' {
		return nil, eris.New("source: not a geopackage geometry")
	}
	flags := b[3]
	if flags&0x10 != 0 {
		return nil, nil
	}
	envSize, ok := gpkgEnvelopeSize[(flags>>1)&0x07]
	if !ok {
		return nil, eris.Errorf("source: invalid envelope indicator %d", (flags>>1)&0x07)
	}
	offset := 8 + envSize
	if len(b) <= offset {
		return nil, eris.New("source: truncated geopackage geometry")
	}
	return wkb.Unmarshal(b[offset:])
}

func sqlString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
