package source

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vivabilite/internal/spatial"
	"github.com/sells-group/vivabilite/internal/values"
)

// ReadASCIIGrid reads an ESRI ASCII grid (.asc). Both corner and center registration
// (xllcorner/xllcenter) are accepted. A zero srid falls back to the .prj sidecar.
func ReadASCIIGrid(path string, srid int) (*spatial.Grid, error) {
	b, err := readText(path)
	if err != nil {
		return nil, err
	}
	if srid == 0 {
		srid = prjSRID(path)
	}

	header := make(map[string]float64)
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	sc.Split(bufio.ScanWords)

	var pending string
	for sc.Scan() {
		tok := sc.Text()
		key := strings.ToLower(tok)
		if _, err := strconv.ParseFloat(tok, 64); err == nil {
			pending = tok
			break
		}
		if !sc.Scan() {
			return nil, eris.Errorf("source: truncated ascii grid header in %s", path)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "source: ascii grid header %s", key)
		}
		header[key] = v
	}

	cols, rows := int(header["ncols"]), int(header["nrows"])
	cell, ok := header["cellsize"]
	if cols <= 0 || rows <= 0 || !ok || cell <= 0 {
		return nil, eris.Errorf("source: ascii grid %s missing ncols, nrows or cellsize", path)
	}

	g := &spatial.Grid{
		SRID:       srid,
		Cols:       cols,
		Rows:       rows,
		CellWidth:  cell,
		CellHeight: cell,
	}
	if x, ok := header["xllcorner"]; ok {
		g.OriginX = x
	} else if x, ok := header["xllcenter"]; ok {
		g.OriginX = x - cell/2
	} else {
		return nil, eris.Errorf("source: ascii grid %s missing xllcorner", path)
	}
	var yll float64
	if y, ok := header["yllcorner"]; ok {
		yll = y
	} else if y, ok := header["yllcenter"]; ok {
		yll = y - cell/2
	} else {
		return nil, eris.Errorf("source: ascii grid %s missing yllcorner", path)
	}
	g.OriginY = yll + float64(rows)*cell
	if nd, ok := header["nodata_value"]; ok {
		g.NoData = values.Of(nd)
	}

	data := make([]float64, 0, cols*rows)
	next := func(tok string) error {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return eris.Wrapf(err, "source: ascii grid cell %d", len(data))
		}
		data = append(data, v)
		return nil
	}
	if pending != "" {
		if err := next(pending); err != nil {
			return nil, err
		}
	}
	for len(data) < cols*rows && sc.Scan() {
		if err := next(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "source: scan ascii grid %s", path)
	}
	if len(data) != cols*rows {
		return nil, eris.Errorf("source: ascii grid %s has %d cells, want %d", path, len(data), cols*rows)
	}

	g.Bands = [][]float64{data}
	return g, nil
}
