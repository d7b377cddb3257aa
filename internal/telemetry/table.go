// Package telemetry holds the in-memory telemetry table: one row per unit per cycle,
// with a fixed ordered set of numeric sensor and setting columns.
//
// Tables are treated as immutable values. Every transformation in this package and in
// the packages built on it returns a new Table instead of touching the input.
package telemetry

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidInput marks bad selections or malformed input data: unknown or missing
	// columns, empty column lists, unparseable rows.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnitNotFound is returned when a requested unit has no rows. It wraps ErrInvalidInput.
	ErrUnitNotFound = fmt.Errorf("%w: unit not found", ErrInvalidInput)
)

// Row is one cycle of one unit. Values is aligned with the owning Table's Columns.
type Row struct {
	Unit   int
	Cycle  int
	Values []float64
}

// Table is an ordered sequence of rows.
//
// Rows of a unit are expected to appear in ascending cycle order. This is not enforced;
// see CheckCycleOrder.
type Table struct {
	UnitColumn  string
	CycleColumn string
	Columns     []string
	Rows        []Row

	index map[string]int
}

// NewTable builds a table over the given numeric column names. The rows are used as given.
func NewTable(unitColumn, cycleColumn string, columns []string, rows []Row) (*Table, error) {
	t := &Table{
		UnitColumn:  unitColumn,
		CycleColumn: cycleColumn,
		Columns:     append([]string(nil), columns...),
		Rows:        rows,
	}
	if err := t.buildIndex(); err != nil {
		return nil, err
	}
	for i, r := range rows {
		if len(r.Values) != len(columns) {
			return nil, fmt.Errorf("%w: row %d has %d values, expected %d", ErrInvalidInput, i, len(r.Values), len(columns))
		}
	}
	return t, nil
}

func (t *Table) buildIndex() error {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		if c == t.UnitColumn || c == t.CycleColumn {
			return fmt.Errorf("%w: column %q collides with an identifier column", ErrInvalidInput, c)
		}
		if _, dup := t.index[c]; dup {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidInput, c)
		}
		t.index[c] = i
	}
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// HasColumn reports whether name is one of the table's numeric columns.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// ColumnIndex returns the position of a numeric column within Row.Values.
func (t *Table) ColumnIndex(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Select resolves an ordered list of column names to their value indexes.
// The list must be non-empty, free of duplicates and name existing numeric columns.
func (t *Table) Select(columns []string) ([]int, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: no columns selected", ErrInvalidInput)
	}
	idx := make([]int, len(columns))
	seen := make(map[string]bool, len(columns))
	for i, c := range columns {
		if seen[c] {
			return nil, fmt.Errorf("%w: column %q selected twice", ErrInvalidInput, c)
		}
		seen[c] = true
		j, ok := t.index[c]
		if !ok {
			return nil, fmt.Errorf("%w: unknown column %q", ErrInvalidInput, c)
		}
		idx[i] = j
	}
	return idx, nil
}

// Value returns the reading of a named column in row i.
func (t *Table) Value(i int, column string) (float64, bool) {
	j, ok := t.index[column]
	if !ok || i < 0 || i >= len(t.Rows) {
		return 0, false
	}
	return t.Rows[i].Values[j], true
}

// Column copies every reading of a numeric column, in row order.
func (t *Table) Column(name string) ([]float64, error) {
	j, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown column %q", ErrInvalidInput, name)
	}
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Values[j]
	}
	return out, nil
}

// Units returns the distinct unit identifiers in ascending order.
func (t *Table) Units() []int {
	seen := make(map[int]bool)
	var units []int
	for _, r := range t.Rows {
		if !seen[r.Unit] {
			seen[r.Unit] = true
			units = append(units, r.Unit)
		}
	}
	sort.Ints(units)
	return units
}

// RowsByUnit groups row indexes by unit, preserving table order within each unit.
func (t *Table) RowsByUnit() map[int][]int {
	groups := make(map[int][]int)
	for i, r := range t.Rows {
		groups[r.Unit] = append(groups[r.Unit], i)
	}
	return groups
}

// WithColumn returns a copy of the table with an extra numeric column appended.
// values must hold one entry per row.
func (t *Table) WithColumn(name string, values []float64) (*Table, error) {
	if len(values) != len(t.Rows) {
		return nil, fmt.Errorf("%w: column %q has %d values for %d rows", ErrInvalidInput, name, len(values), len(t.Rows))
	}
	if t.HasColumn(name) {
		return nil, fmt.Errorf("%w: column %q already exists", ErrInvalidInput, name)
	}

	rows := make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		vals := make([]float64, len(r.Values)+1)
		copy(vals, r.Values)
		vals[len(r.Values)] = values[i]
		rows[i] = Row{Unit: r.Unit, Cycle: r.Cycle, Values: vals}
	}

	return NewTable(t.UnitColumn, t.CycleColumn, append(append([]string(nil), t.Columns...), name), rows)
}

// OrderViolation describes a row whose cycle does not follow the previous row of the same unit.
type OrderViolation struct {
	Unit          int
	Row           int
	PreviousCycle int
	Cycle         int
}

// CheckCycleOrder reports rows that break ascending cycle order within their unit.
// Last-window extraction relies on table order, so callers should surface these.
func (t *Table) CheckCycleOrder() []OrderViolation {
	last := make(map[int]int)
	var violations []OrderViolation
	for i, r := range t.Rows {
		if prev, ok := last[r.Unit]; ok && r.Cycle <= prev {
			violations = append(violations, OrderViolation{Unit: r.Unit, Row: i, PreviousCycle: prev, Cycle: r.Cycle})
		}
		last[r.Unit] = r.Cycle
	}
	return violations
}
