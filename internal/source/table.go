package source

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/vivabilite/internal/spatial"
	"github.com/sells-group/vivabilite/internal/values"
)

// Table is an attribute table keyed by one column. Duplicate keys keep the first row.
type Table struct {
	KeyColumn string
	Columns   []string

	index map[string]int
	rows  map[string][]string
	keys  []string
}

// NewTable builds a table from a header and rows. keyColumn defaults to the first column.
func NewTable(header []string, rows [][]string, keyColumn string) (*Table, error) {
	if len(header) == 0 {
		return nil, eris.New("source: table has no header")
	}
	t := &Table{
		Columns: make([]string, len(header)),
		index:   make(map[string]int, len(header)),
		rows:    make(map[string][]string, len(rows)),
	}
	for i, h := range header {
		h = strings.TrimSpace(h)
		t.Columns[i] = h
		t.index[strings.ToLower(h)] = i
	}

	if keyColumn == "" {
		keyColumn = t.Columns[0]
	}
	keyIdx, ok := t.index[strings.ToLower(keyColumn)]
	if !ok {
		return nil, eris.Errorf("source: key column %q not in table", keyColumn)
	}
	t.KeyColumn = t.Columns[keyIdx]

	for _, row := range rows {
		if keyIdx >= len(row) {
			continue
		}
		key := strings.TrimSpace(row[keyIdx])
		if key == "" {
			continue
		}
		if _, dup := t.rows[key]; dup {
			continue
		}
		t.rows[key] = row
		t.keys = append(t.keys, key)
	}
	return t, nil
}

// Len returns the number of keyed rows.
func (t *Table) Len() int {
	return len(t.keys)
}

// Keys returns the row keys in file order.
func (t *Table) Keys() []string {
	return t.keys
}

// HasColumn reports whether the table has a column (case-insensitive).
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[strings.ToLower(name)]
	return ok
}

// Value returns the trimmed cell for key and column, and whether the row exists.
func (t *Table) Value(key, column string) (string, bool) {
	row, ok := t.rows[key]
	if !ok {
		return "", false
	}
	i, ok := t.index[strings.ToLower(column)]
	if !ok || i >= len(row) {
		return "", true
	}
	return strings.TrimSpace(row[i]), true
}

// Float returns the cell for key and column as a number, missing when absent or unparsable.
func (t *Table) Float(key, column string) values.Float {
	v, _ := t.Value(key, column)
	return spatial.ParseFloat(v)
}

// ReadCSVTable reads a delimited text table. The delimiter (comma, semicolon or tab) is
// sniffed from the header line.
func ReadCSVTable(path, keyColumn string) (*Table, error) {
	b, err := readText(path)
	if err != nil {
		return nil, err
	}
	records, err := readDelimited(b)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read csv %s", path)
	}
	if len(records) == 0 {
		return nil, eris.Errorf("source: csv %s is empty", path)
	}
	return NewTable(records[0], records[1:], keyColumn)
}

// readDelimited parses text records, skipping '#' comment lines.
func readDelimited(b []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(b))
	r.Comma = sniffDelimiter(b)
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var out [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

func sniffDelimiter(b []byte) rune {
	line := firstDataLine(b)
	best, bestCount := ',', strings.Count(line, ",")
	for _, d := range []rune{';', '\t'} {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func firstDataLine(b []byte) string {
	for _, line := range strings.Split(string(b), "\n") {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		return t
	}
	return ""
}

// ReadXLSXTable reads one sheet of an XLSX workbook; the first row is the header.
func ReadXLSXTable(path, keyColumn, sheetName string) (*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open xlsx %s", path)
	}

	var sheet *xlsx.Sheet
	if sheetName != "" {
		s, ok := f.Sheet[sheetName]
		if !ok {
			return nil, eris.Errorf("source: sheet %q not found in %s", sheetName, path)
		}
		sheet = s
	} else {
		if len(f.Sheets) == 0 {
			return nil, eris.Errorf("source: xlsx %s has no sheets", path)
		}
		sheet = f.Sheets[0]
	}

	var records [][]string
	for _, row := range sheet.Rows {
		if row == nil {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		records = append(records, cells)
	}
	if len(records) == 0 {
		return nil, eris.Errorf("source: sheet of %s is empty", path)
	}
	return NewTable(records[0], records[1:], keyColumn)
}
