package telemetry

import "fmt"

// Default identifier column names of the turbofan degradation datasets.
const (
	DefaultUnitColumn  = "unit_ID"
	DefaultCycleColumn = "time_in_cycles"
)

// ColumnMap names the fields of a headerless telemetry file by position.
type ColumnMap struct {
	// Names holds one name per field, in file order.
	Names []string
	// UnitColumn and CycleColumn name the two identifier fields within Names.
	UnitColumn  string
	CycleColumn string
}

// DefaultColumns returns the 26-field layout of the C-MAPSS turbofan files:
// identifiers, three operational settings and the 21 named sensors.
func DefaultColumns() ColumnMap {
	return ColumnMap{
		Names: []string{
			DefaultUnitColumn, DefaultCycleColumn,
			"setting1", "setting2", "setting3",
			"T2", "T24", "T30", "T50", "P2", "P15", "P30", "Nf", "Nc", "epr",
			"Ps30", "phi", "NRf", "NRc", "BPR", "farB", "htBleed", "Nf_dmd", "PCNfR_dmd",
			"W31", "W32",
		},
		UnitColumn:  DefaultUnitColumn,
		CycleColumn: DefaultCycleColumn,
	}
}

// Validate checks that both identifier columns are present exactly once and that
// no name repeats.
func (m ColumnMap) Validate() error {
	if m.UnitColumn == "" || m.CycleColumn == "" {
		return fmt.Errorf("%w: unit and cycle column names are required", ErrInvalidInput)
	}
	seen := make(map[string]bool, len(m.Names))
	for _, n := range m.Names {
		if n == "" {
			return fmt.Errorf("%w: empty column name", ErrInvalidInput)
		}
		if seen[n] {
			return fmt.Errorf("%w: duplicate column name %q", ErrInvalidInput, n)
		}
		seen[n] = true
	}
	if !seen[m.UnitColumn] {
		return fmt.Errorf("%w: unit column %q is not in the column map", ErrInvalidInput, m.UnitColumn)
	}
	if !seen[m.CycleColumn] {
		return fmt.Errorf("%w: cycle column %q is not in the column map", ErrInvalidInput, m.CycleColumn)
	}
	return nil
}

// numericColumns returns the non-identifier names in file order.
func (m ColumnMap) numericColumns() []string {
	var cols []string
	for _, n := range m.Names {
		if n != m.UnitColumn && n != m.CycleColumn {
			cols = append(cols, n)
		}
	}
	return cols
}
