package anomaly

import (
	"fmt"
	"math"

	"github.com/chrissnell/turbowatch/internal/telemetry"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// ControlLimit returns the upper control limit for the T-square of a new observation
// measured against the mean and covariance of a baseline of n rows over p sensors, at
// false-alarm rate alpha:
//
//	p(n+1)(n-1) / (n(n-p)) * F(1-alpha; p, n-p)
func ControlLimit(n, p int, alpha float64) (float64, error) {
	if p < 1 || n <= p {
		return 0, fmt.Errorf("%w: control limit needs more rows than sensors (n=%d, p=%d)", telemetry.ErrInvalidInput, n, p)
	}
	if !(alpha > 0 && alpha < 1) {
		return 0, fmt.Errorf("%w: alpha %v outside (0, 1)", telemetry.ErrInvalidInput, alpha)
	}

	f := distuv.F{D1: float64(p), D2: float64(n - p)}
	nf, pf := float64(n), float64(p)
	return pf * (nf + 1) * (nf - 1) / (nf * (nf - pf)) * f.Quantile(1-alpha), nil
}

// PhaseOneLimit returns the upper control limit for the T-square of rows that were
// themselves used to estimate the mean and covariance, as ComputeTSquare does:
//
//	(n-1)^2 / n * Beta(1-alpha; p/2, (n-p-1)/2)
//
// Such values never exceed (n-1)^2/n, so ControlLimit must not be applied to them.
func PhaseOneLimit(n, p int, alpha float64) (float64, error) {
	if p < 1 || n <= p+1 {
		return 0, fmt.Errorf("%w: phase I limit needs at least two more rows than sensors (n=%d, p=%d)", telemetry.ErrInvalidInput, n, p)
	}
	if !(alpha > 0 && alpha < 1) {
		return 0, fmt.Errorf("%w: alpha %v outside (0, 1)", telemetry.ErrInvalidInput, alpha)
	}

	b := distuv.Beta{Alpha: float64(p) / 2, Beta: float64(n-p-1) / 2}
	nf := float64(n)
	return (nf - 1) * (nf - 1) / nf * b.Quantile(1-alpha), nil
}

// Summary condenses a T-square series for tabular reports.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Max    float64 `json:"max"`
	ArgMax int     `json:"argmax"`
}

// Summarize reports the mean and the location of the peak of a series.
func Summarize(series []float64) Summary {
	if len(series) == 0 {
		return Summary{ArgMax: -1, Mean: math.NaN(), Max: math.NaN()}
	}
	i := floats.MaxIdx(series)
	return Summary{
		Count:  len(series),
		Mean:   floats.Sum(series) / float64(len(series)),
		Max:    series[i],
		ArgMax: i,
	}
}

// Exceedances returns the indexes of values strictly above limit.
func Exceedances(series []float64, limit float64) []int {
	var idx []int
	for i, v := range series {
		if v > limit {
			idx = append(idx, i)
		}
	}
	return idx
}
