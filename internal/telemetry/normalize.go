package telemetry

import (
	"fmt"
	"math"
)

// CycleNormColumn is appended by Normalize: the min-max scaled cycle index.
const CycleNormColumn = "cycle_norm"

// MinMax returns the minimum and maximum of values. It returns NaNs for an empty slice.
func MinMax(values []float64) (lo, hi float64) {
	if len(values) == 0 {
		return math.NaN(), math.NaN()
	}
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// Scale maps v from [lo, hi] to [0, 1]. A degenerate range maps everything to 0.
func Scale(v, lo, hi float64) float64 {
	if hi == lo {
		return 0
	}
	return (v - lo) / (hi - lo)
}

// Normalize returns a copy of the table in which every numeric column not named in
// exclude is min-max scaled to [0, 1] over the whole table, plus a cycle_norm column
// holding the scaled cycle index. Identifier columns are never scaled.
func (t *Table) Normalize(exclude []string) (*Table, error) {
	skip := make(map[string]bool, len(exclude))
	for _, c := range exclude {
		if c == t.UnitColumn || c == t.CycleColumn {
			continue
		}
		if !t.HasColumn(c) {
			return nil, fmt.Errorf("%w: cannot exclude unknown column %q", ErrInvalidInput, c)
		}
		skip[c] = true
	}

	p := len(t.Columns)
	lo := make([]float64, p)
	hi := make([]float64, p)
	for j := range lo {
		lo[j], hi[j] = math.Inf(1), math.Inf(-1)
	}
	cycleLo, cycleHi := math.Inf(1), math.Inf(-1)
	for _, r := range t.Rows {
		for j, v := range r.Values {
			lo[j] = math.Min(lo[j], v)
			hi[j] = math.Max(hi[j], v)
		}
		c := float64(r.Cycle)
		cycleLo = math.Min(cycleLo, c)
		cycleHi = math.Max(cycleHi, c)
	}

	rows := make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		vals := make([]float64, p+1)
		for j, v := range r.Values {
			if skip[t.Columns[j]] {
				vals[j] = v
				continue
			}
			vals[j] = Scale(v, lo[j], hi[j])
		}
		vals[p] = Scale(float64(r.Cycle), cycleLo, cycleHi)
		rows[i] = Row{Unit: r.Unit, Cycle: r.Cycle, Values: vals}
	}

	cols := append(append([]string(nil), t.Columns...), CycleNormColumn)
	return NewTable(t.UnitColumn, t.CycleColumn, cols, rows)
}
