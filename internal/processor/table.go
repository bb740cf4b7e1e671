package processor

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vivabilite/internal/failure"
	"github.com/sells-group/vivabilite/internal/source"
	"github.com/sells-group/vivabilite/internal/spatial"
	"github.com/sells-group/vivabilite/internal/values"
)

// TableColumn aligns a numeric table column on the commune ids. Spreadsheets often drop the
// leading zero of INSEE codes (01001 → 1001), so that form is tried when the exact id is absent.
func TableColumn(c *Communes, t *source.Table, column string) (values.Column, error) {
	if !t.HasColumn(column) {
		return nil, failure.New(failure.Configuration, eris.Errorf("processor: column %q not in table", column))
	}

	out := make(values.Column, len(c.Items))
	for _, it := range c.Items {
		v, ok := t.Value(it.ID, column)
		if !ok {
			if trimmed := strings.TrimLeft(it.ID, "0"); trimmed != it.ID && trimmed != "" {
				v, _ = t.Value(trimmed, column)
			}
		}
		out[it.ID] = spatial.ParseFloat(v)
	}
	return out, nil
}
