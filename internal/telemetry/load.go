package telemetry

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
)

// Source produces a telemetry table from some backing store.
type Source interface {
	Load(ctx context.Context) (*Table, error)
}

// FileSource reads a space-delimited telemetry file.
type FileSource struct {
	Path    string
	Columns ColumnMap
}

// Load reads the file at Path.
func (f FileSource) Load(ctx context.Context) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadFile(f.Path, f.Columns)
}

// LoadFile opens path and parses it with ReadTable.
func LoadFile(path string, cols ColumnMap) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry file: %w", err)
	}
	defer f.Close()

	t, err := ReadTable(f, cols)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadTable parses headerless, single-space delimited rows. Fields map to names by
// position through cols. Empty fields, which the turbofan files produce with trailing
// spaces, are dropped before mapping.
func ReadTable(r io.Reader, cols ColumnMap) (*Table, error) {
	if err := cols.Validate(); err != nil {
		return nil, err
	}

	reader := csv.NewReader(r)
	reader.Comma = ' '
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	numeric := cols.numericColumns()
	var rows []Row

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		line, _ := reader.FieldPos(0)

		fields := record[:0:0]
		for _, f := range record {
			if f != "" {
				fields = append(fields, f)
			}
		}
		if len(fields) == 0 {
			continue
		}
		if len(fields) != len(cols.Names) {
			return nil, fmt.Errorf("%w: line %d has %d fields, column map has %d", ErrInvalidInput, line, len(fields), len(cols.Names))
		}

		row := Row{Values: make([]float64, 0, len(numeric))}
		for i, f := range fields {
			name := cols.Names[i]
			switch name {
			case cols.UnitColumn:
				row.Unit, err = parseIdentifier(f)
			case cols.CycleColumn:
				row.Cycle, err = parseIdentifier(f)
				if err == nil && row.Cycle < 0 {
					err = fmt.Errorf("negative cycle %d", row.Cycle)
				}
			default:
				var v float64
				v, err = strconv.ParseFloat(f, 64)
				row.Values = append(row.Values, v)
			}
			if err != nil {
				return nil, fmt.Errorf("%w: line %d column %q: %v", ErrInvalidInput, line, name, err)
			}
		}
		rows = append(rows, row)
	}

	return NewTable(cols.UnitColumn, cols.CycleColumn, numeric, rows)
}

// parseIdentifier accepts integers written either as "12" or "12.0".
func parseIdentifier(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return int(f), nil
}
