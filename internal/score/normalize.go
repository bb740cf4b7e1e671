// Package score defines scoring recipes and maps raw measurements onto the 0–100 scale.
package score

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/vivabilite/internal/values"
)

// Neutral is the score used when nothing can be said: degenerate ranges and empty weightings.
const Neutral = 50.0

// Normalize maps v linearly from [min, max] onto [0, 100], clamped. invert flips the scale so
// that min scores 100. A NaN value stays NaN. A zero-width range yields Neutral. When
// min > max the bounds are swapped and the direction flipped, so the line through
// (min, 0) and (max, 100) is preserved.
func Normalize(v, min, max float64, invert bool) float64 {
	if math.IsNaN(v) {
		return math.NaN()
	}
	if min > max {
		min, max = max, min
		invert = !invert
	}
	if min == max {
		return Neutral
	}
	s := 100 * clamp01((v-min)/(max-min))
	if invert {
		s = 100 - s
	}
	return s
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

// NormalizeFloat normalizes an optional value; missing stays missing.
func NormalizeFloat(v values.Float, min, max float64, invert bool) values.Float {
	if !v.Valid {
		return values.Missing()
	}
	return values.Of(Normalize(v.Value, min, max, invert))
}

// NormalizeColumn normalizes every value of a column.
func NormalizeColumn(col values.Column, min, max float64, invert bool) values.Column {
	out := make(values.Column, len(col))
	for id, v := range col {
		out[id] = NormalizeFloat(v, min, max, invert)
	}
	return out
}

// Range returns the observed bounds of the present values of col.
func Range(col values.Column) (min, max float64, ok bool) {
	vs := col.Valid()
	if len(vs) == 0 {
		return 0, 0, false
	}
	return floats.Min(vs), floats.Max(vs), true
}

// WeightedGlobal combines category scores into one 0–100 score. Only categories with a
// positive weight and a present score contribute to both the weighted sum and the total
// weight; a missing score is excluded rather than counted as zero. With no contributing
// category the result is Neutral. The result is not rounded.
func WeightedGlobal(scores map[string]values.Float, weights map[string]float64) float64 {
	cats := make([]string, 0, len(weights))
	for c := range weights {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	var sum, total float64
	for _, c := range cats {
		w := weights[c]
		if !(w > 0) {
			continue
		}
		s, ok := scores[c]
		if !ok || !s.Valid {
			continue
		}
		sum += s.Value * w
		total += w
	}
	if total == 0 {
		return Neutral
	}
	return sum / total
}

// Round1 rounds to one decimal for display.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
