// Package values holds the optional numeric type used for per-commune measurements.
// A missing measurement is explicit (Valid == false) rather than a NaN sentinel.
package values

import (
	"math"
	"sort"
)

// Float is a float64 that may be missing.
type Float struct {
	Value float64
	Valid bool
}

// Of wraps v. NaN and infinities are treated as missing.
func Of(v float64) Float {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Float{}
	}
	return Float{Value: v, Valid: true}
}

// Missing returns an invalid Float.
func Missing() Float {
	return Float{}
}

// Get returns the value and whether it is present.
func (f Float) Get() (float64, bool) {
	return f.Value, f.Valid
}

// OrNaN returns the value, or NaN when missing.
func (f Float) OrNaN() float64 {
	if !f.Valid {
		return math.NaN()
	}
	return f.Value
}

// Or returns the value, or def when missing.
func (f Float) Or(def float64) float64 {
	if !f.Valid {
		return def
	}
	return f.Value
}

// Column is one numeric column keyed by commune id.
type Column map[string]Float

// Get returns the value for id, missing if absent.
func (c Column) Get(id string) Float {
	if c == nil {
		return Float{}
	}
	return c[id]
}

// Present returns the number of valid entries.
func (c Column) Present() int {
	var n int
	for _, v := range c {
		if v.Valid {
			n++
		}
	}
	return n
}

// Keys returns the ids of the column in sorted order.
func (c Column) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Valid returns the present values in id order.
func (c Column) Valid() []float64 {
	out := make([]float64, 0, len(c))
	for _, k := range c.Keys() {
		if v := c[k]; v.Valid {
			out = append(out, v.Value)
		}
	}
	return out
}
