// Package health derives a weighted health index from four normalized sensors.
package health

import (
	"fmt"

	"github.com/chrissnell/turbowatch/internal/telemetry"
)

// Column is the name of the column WithHealthIndex appends.
const Column = "health_index"

// Weights holds one weight per index sensor. Values are expected in [0, 1] but are
// not clamped.
type Weights [4]float64

// Sensors names the four sensors the index combines, in weight order.
type Sensors [4]string

// DefaultSensors are the HPC/LPT outlet temperatures and the core speeds.
var DefaultSensors = Sensors{"T30", "T50", "Nc", "NRc"}

// DefaultWeights returns the weights the dashboard starts from.
func DefaultWeights() Weights {
	return Weights{0.1, 0.5, 0.2, 0.8}
}

// ParseWeights converts a weight list into Weights. Exactly four values are required.
func ParseWeights(values []float64) (Weights, error) {
	var w Weights
	if len(values) != len(w) {
		return w, fmt.Errorf("%w: expected %d health weights, got %d", telemetry.ErrInvalidInput, len(w), len(values))
	}
	copy(w[:], values)
	return w, nil
}

// ParseSensors converts a sensor list into Sensors. Exactly four names are required.
func ParseSensors(names []string) (Sensors, error) {
	var s Sensors
	if len(names) != len(s) {
		return s, fmt.Errorf("%w: expected %d health sensors, got %d", telemetry.ErrInvalidInput, len(s), len(names))
	}
	copy(s[:], names)
	return s, nil
}

// Compute returns one health index value per table row. Each sensor is min-max scaled
// within its unit (a constant sensor scales to 0) and the scaled values are combined
// with w.
func Compute(t *telemetry.Table, w Weights, sensors Sensors) ([]float64, error) {
	idx, err := t.Select(sensors[:])
	if err != nil {
		return nil, err
	}

	out := make([]float64, t.Len())
	for _, rows := range t.RowsByUnit() {
		for k, j := range idx {
			vals := make([]float64, len(rows))
			for n, i := range rows {
				vals[n] = t.Rows[i].Values[j]
			}
			lo, hi := telemetry.MinMax(vals)
			for n, i := range rows {
				out[i] += w[k] * telemetry.Scale(vals[n], lo, hi)
			}
		}
	}
	return out, nil
}

// WithHealthIndex returns a copy of t with the health index appended as a column.
// t itself is left untouched.
func WithHealthIndex(t *telemetry.Table, w Weights, sensors Sensors) (*telemetry.Table, error) {
	hi, err := Compute(t, w, sensors)
	if err != nil {
		return nil, err
	}
	return t.WithColumn(Column, hi)
}

// ForUnit returns the health index series of a single unit, indexed by cycle. Only the
// unit's rows are scored.
func ForUnit(t *telemetry.Table, unit int, w Weights, sensors Sensors) ([]telemetry.Point, error) {
	rows, err := t.FilterByUnit(unit)
	if err != nil {
		return nil, err
	}
	withIndex, err := WithHealthIndex(rows, w, sensors)
	if err != nil {
		return nil, err
	}
	return withIndex.Series(unit, Column)
}
