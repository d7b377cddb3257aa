package telemetry

import "fmt"

// CycleCount is the number of recorded cycles for one unit.
type CycleCount struct {
	Unit   int `json:"unit"`
	Cycles int `json:"cycles"`
}

// Summary renders the count as a sentence for dashboards and reports.
func (c CycleCount) Summary() string {
	return fmt.Sprintf("unit %d completed %d cycles", c.Unit, c.Cycles)
}

// FilterByUnit returns a new table holding only the rows of unit, in table order.
func (t *Table) FilterByUnit(unit int) (*Table, error) {
	var rows []Row
	for _, r := range t.Rows {
		if r.Unit == unit {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnitNotFound, unit)
	}
	return &Table{
		UnitColumn:  t.UnitColumn,
		CycleColumn: t.CycleColumn,
		Columns:     t.Columns,
		Rows:        rows,
		index:       t.index,
	}, nil
}

// CountCyclesByUnit counts rows per unit, ascending by unit.
func (t *Table) CountCyclesByUnit() []CycleCount {
	groups := t.RowsByUnit()
	counts := make([]CycleCount, 0, len(groups))
	for _, u := range t.Units() {
		counts = append(counts, CycleCount{Unit: u, Cycles: len(groups[u])})
	}
	return counts
}

// Point is one sample of a per-unit series.
type Point struct {
	Cycle int     `json:"cycle"`
	Value float64 `json:"value"`
}

// Series returns the (cycle, value) pairs of one column for one unit, in table order.
func (t *Table) Series(unit int, column string) ([]Point, error) {
	j, ok := t.index[column]
	if !ok {
		return nil, fmt.Errorf("%w: unknown column %q", ErrInvalidInput, column)
	}
	var pts []Point
	for _, r := range t.Rows {
		if r.Unit == unit {
			pts = append(pts, Point{Cycle: r.Cycle, Value: r.Values[j]})
		}
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnitNotFound, unit)
	}
	return pts, nil
}

// Matrix returns the unit's rows restricted to columns as a row-major n×p slice.
func (t *Table) Matrix(unit int, columns []string) ([][]float64, error) {
	idx, err := t.Select(columns)
	if err != nil {
		return nil, err
	}
	var out [][]float64
	for _, r := range t.Rows {
		if r.Unit != unit {
			continue
		}
		row := make([]float64, len(idx))
		for k, j := range idx {
			row[k] = r.Values[j]
		}
		out = append(out, row)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnitNotFound, unit)
	}
	return out, nil
}
