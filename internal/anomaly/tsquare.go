// Package anomaly computes Hotelling's T-square for a unit's sensor trajectory.
//
// Each call derives its mean vector and covariance from the rows it is given. There is
// no shared or cached baseline between calls.
package anomaly

import (
	"errors"
	"fmt"
	"math"

	"github.com/chrissnell/turbowatch/internal/telemetry"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrSingularCovariance is returned when the sample covariance of the selected sensors
// cannot be inverted: constant readings, collinear sensors, or no more rows than sensors.
var ErrSingularCovariance = errors.New("singular covariance matrix")

// maxCondition bounds the condition number of the sensors' correlation matrix. Anything
// above it is treated as singular rather than inverted into noise.
const maxCondition = 1e12

// ComputeTSquare returns, for each row of unit in table order, the squared Mahalanobis
// distance of the selected sensor readings from the unit's own mean under the unit's
// own sample covariance.
func ComputeTSquare(t *telemetry.Table, unit int, sensors []string) ([]float64, error) {
	rows, err := t.Matrix(unit, sensors)
	if err != nil {
		return nil, err
	}
	return TSquare(rows)
}

// TSquare computes the per-row statistic for an n×p row-major matrix.
func TSquare(rows [][]float64) ([]float64, error) {
	n := len(rows)
	if n == 0 {
		return nil, fmt.Errorf("%w: no rows", telemetry.ErrInvalidInput)
	}
	p := len(rows[0])
	if p == 0 {
		return nil, fmt.Errorf("%w: no sensors", telemetry.ErrInvalidInput)
	}

	x := mat.NewDense(n, p, nil)
	for i, r := range rows {
		if len(r) != p {
			return nil, fmt.Errorf("%w: row %d has %d values, expected %d", telemetry.ErrInvalidInput, i, len(r), p)
		}
		for j, v := range r {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: non-finite reading at row %d", telemetry.ErrInvalidInput, i)
			}
			x.Set(i, j, v)
		}
	}

	if n <= p {
		return nil, fmt.Errorf("%w: %d rows for %d sensors", ErrSingularCovariance, n, p)
	}

	// The statistic is invariant to per-sensor scaling, so work on standardized readings.
	// That keeps the conditioning check independent of sensor units.
	z := mat.NewDense(n, p, nil)
	for j := 0; j < p; j++ {
		col := mat.Col(nil, j, x)
		if floats.Max(col) == floats.Min(col) {
			return nil, fmt.Errorf("%w: sensor %d is constant", ErrSingularCovariance, j)
		}
		mean, std := stat.MeanStdDev(col, nil)
		for i, v := range col {
			z.Set(i, j, (v-mean)/std)
		}
	}

	var corr mat.SymDense
	stat.CovarianceMatrix(&corr, z, nil)

	var chol mat.Cholesky
	if ok := chol.Factorize(&corr); !ok {
		return nil, fmt.Errorf("%w: covariance is not positive definite", ErrSingularCovariance)
	}
	if cond := chol.Cond(); cond > maxCondition || math.IsNaN(cond) {
		return nil, fmt.Errorf("%w: condition number %g", ErrSingularCovariance, cond)
	}

	out := make([]float64, n)
	d := mat.NewVecDense(p, nil)
	var y mat.VecDense
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			d.SetVec(j, z.At(i, j))
		}
		if err := chol.SolveVecTo(&y, d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSingularCovariance, err)
		}
		// Rounding can leave a tiny negative quadratic form for points at the mean.
		out[i] = math.Max(0, mat.Dot(d, &y))
	}

	return out, nil
}

// Comparison pairs the statistic of a unit's baseline rows with that of its observed rows.
// The two series are computed independently and may differ in length.
type Comparison struct {
	Baseline []float64 `json:"baseline"`
	Observed []float64 `json:"observed"`
}

// CompareBaseline computes the statistic of unit in train (the normal baseline) and,
// separately, in test (the observed data). Each side is measured against its own mean
// and covariance, so the comparison is one of shape rather than a calibrated test.
func CompareBaseline(train, test *telemetry.Table, unit int, sensors []string) (Comparison, error) {
	baseline, err := ComputeTSquare(train, unit, sensors)
	if err != nil {
		return Comparison{}, fmt.Errorf("baseline: %w", err)
	}
	observed, err := ComputeTSquare(test, unit, sensors)
	if err != nil {
		return Comparison{}, fmt.Errorf("observed: %w", err)
	}
	return Comparison{Baseline: baseline, Observed: observed}, nil
}
