package source

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/vivabilite/internal/spatial"
)

// ReadGeoJSON reads a GeoJSON FeatureCollection. Coordinates default to WGS84.
func ReadGeoJSON(path string, opts VectorOptions) (*spatial.FeatureCollection, error) {
	b, err := readText(path)
	if err != nil {
		return nil, err
	}

	var gfc geojson.FeatureCollection
	if err := json.Unmarshal(b, &gfc); err != nil {
		return nil, eris.Wrapf(err, "source: decode geojson %s", path)
	}

	fc := &spatial.FeatureCollection{SRID: spatial.WGS84}
	if opts.SRID != 0 {
		fc.SRID = opts.SRID
	}

	fields := make(map[string]struct{})
	for i, gf := range gfc.Features {
		if gf == nil || gf.Geometry == nil {
			continue
		}
		props := make(map[string]string, len(gf.Properties))
		for k, v := range gf.Properties {
			props[k] = propString(v)
			fields[k] = struct{}{}
		}

		f := spatial.Feature{Geom: gf.Geometry, Props: props}
		switch {
		case opts.IDField != "":
			f.ID = f.Prop(opts.IDField)
		case gf.ID != "":
			f.ID = gf.ID
		default:
			f.ID = strconv.Itoa(i)
		}
		fc.Features = append(fc.Features, f)
	}

	for k := range fields {
		fc.Fields = append(fc.Fields, k)
	}
	sort.Strings(fc.Fields)
	return fc, nil
}

func propString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
