package values

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stat is a reduction over a set of values.
type Stat string

// Supported reductions.
const (
	Mean   Stat = "mean"
	Median Stat = "median"
	Min    Stat = "min"
	Max    Stat = "max"
	Count  Stat = "count"
)

// ParseStat parses a reduction name; empty selects Mean.
func ParseStat(s string) (Stat, error) {
	st := Stat(strings.ToLower(strings.TrimSpace(s)))
	if st == "" {
		return Mean, nil
	}
	if !st.Valid() {
		return "", eris.Errorf("values: unknown statistic %q", s)
	}
	return st, nil
}

// Valid reports whether s is a supported reduction.
func (s Stat) Valid() bool {
	switch s {
	case Mean, Median, Min, Max, Count:
		return true
	default:
		return false
	}
}

// Reduce applies the reduction. An empty input is missing for every statistic except Count.
func (s Stat) Reduce(xs []float64) Float {
	if s == Count {
		return Of(float64(len(xs)))
	}
	if len(xs) == 0 {
		return Missing()
	}
	switch s {
	case Median:
		return Of(median(xs))
	case Min:
		return Of(floats.Min(xs))
	case Max:
		return Of(floats.Max(xs))
	default:
		return Of(stat.Mean(xs, nil))
	}
}

// median averages the two middle values for even counts. xs is not modified.
func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
