package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/chrissnell/turbowatch/internal/anomaly"
	"github.com/chrissnell/turbowatch/internal/health"
	"github.com/chrissnell/turbowatch/internal/managers"
	"github.com/chrissnell/turbowatch/internal/predict"
	"github.com/chrissnell/turbowatch/internal/telemetry"
	"gonum.org/v1/gonum/stat"
)

// Options control which units and sensors are reported.
type Options struct {
	Unit          int // 0 reports every test unit
	Sensors       []string
	Alpha         float64
	HealthSensors health.Sensors
	HealthWeights health.Weights
}

// UnitReport condenses the analyses of one unit.
type UnitReport struct {
	Unit           int
	BaselineCycles int
	ObservedCycles int
	Baseline       anomaly.Summary
	Observed       anomaly.Summary
	ControlLimit   float64 // phase I limit of the observed series; NaN when it is too short
	Exceedances    int
	HealthLast     float64
	HealthSlope    float64 // change of the health index per cycle, least squares
	Prediction     *float64
	Err            string
}

// BuildReport analyses every selected unit of the snapshot's test set. A unit whose
// T-square cannot be computed keeps its error message and the remaining fields that could.
func BuildReport(snap *managers.Snapshot, opts Options) []UnitReport {
	units := snap.Test.Units()
	if opts.Unit != 0 {
		units = []int{opts.Unit}
	}

	var predictions map[int]*float64
	if snap.Predictions != nil {
		predictions = snap.Predictions.Values()
	}

	// Scaling is per unit, so one pass over the table serves every unit.
	scored, healthErr := health.WithHealthIndex(snap.Test, opts.HealthWeights, opts.HealthSensors)

	reports := make([]UnitReport, 0, len(units))
	for _, unit := range units {
		r := UnitReport{Unit: unit, ControlLimit: math.NaN(), HealthLast: math.NaN(), HealthSlope: math.NaN()}
		if predictions != nil {
			r.Prediction = predictions[unit]
		}

		var points []telemetry.Point
		if healthErr == nil {
			points, _ = scored.Series(unit, health.Column)
		}
		if len(points) > 0 {
			cycles := make([]float64, len(points))
			values := make([]float64, len(points))
			for i, p := range points {
				cycles[i], values[i] = float64(p.Cycle), p.Value
			}
			r.HealthLast = values[len(values)-1]
			if len(points) > 1 {
				_, r.HealthSlope = stat.LinearRegression(cycles, values, nil, false)
			}
		}

		cmp, err := anomaly.CompareBaseline(snap.Train, snap.Test, unit, opts.Sensors)
		if err != nil {
			r.Err = err.Error()
			reports = append(reports, r)
			continue
		}
		r.BaselineCycles, r.ObservedCycles = len(cmp.Baseline), len(cmp.Observed)
		r.Baseline, r.Observed = anomaly.Summarize(cmp.Baseline), anomaly.Summarize(cmp.Observed)
		if limit, err := anomaly.PhaseOneLimit(len(cmp.Observed), len(opts.Sensors), opts.Alpha); err == nil {
			r.ControlLimit = limit
			r.Exceedances = len(anomaly.Exceedances(cmp.Observed, limit))
		}
		reports = append(reports, r)
	}
	return reports
}

// PrintReport writes the human readable report.
func PrintReport(w io.Writer, snap *managers.Snapshot, opts Options, reports []UnitReport) {
	fmt.Fprintf(w, "Turbofan Degradation Report\n")
	fmt.Fprintf(w, "===========================\n\n")
	fmt.Fprintf(w, "Configuration:\n")
	fmt.Fprintf(w, "  T-square sensors: %v\n", opts.Sensors)
	fmt.Fprintf(w, "  Alpha: %g\n", opts.Alpha)
	fmt.Fprintf(w, "  Health sensors: %v, weights %v\n\n", opts.HealthSensors, opts.HealthWeights)

	fmt.Fprintf(w, "Observed cycles:\n")
	for _, c := range snap.Test.CountCyclesByUnit() {
		if opts.Unit == 0 || c.Unit == opts.Unit {
			fmt.Fprintf(w, "  %s\n", c.Summary())
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-6s %10s %10s %10s %10s %6s %10s %10s %10s\n",
		"Unit", "Base mean", "Obs mean", "Obs max", "UCL", "Over", "Health", "Slope", "RUL")
	for _, r := range reports {
		if r.Err != "" {
			fmt.Fprintf(w, "%-6d %s\n", r.Unit, r.Err)
			continue
		}
		fmt.Fprintf(w, "%-6d %10.3f %10.3f %10.3f %10s %6d %10s %10s %10s\n",
			r.Unit, r.Baseline.Mean, r.Observed.Mean, r.Observed.Max,
			formatFloat(r.ControlLimit, 3), r.Exceedances,
			formatFloat(r.HealthLast, 3), formatFloat(r.HealthSlope, 5), formatPrediction(r.Prediction))
	}

	if snap.Predictions != nil {
		counts := snap.Predictions.Counts()
		fmt.Fprintf(w, "\nPredictions (report %s): %d ok, %d missing, %d failed\n",
			snap.Predictions.ID, counts[predict.StatusOK], counts[predict.StatusMissing], counts[predict.StatusError])
	}
}

// WriteCSV exports one line per unit.
func WriteCSV(w io.Writer, reports []UnitReport) error {
	writer := csv.NewWriter(w)

	header := []string{"unit", "baseline_cycles", "observed_cycles", "baseline_mean", "baseline_max",
		"observed_mean", "observed_max", "observed_argmax", "control_limit", "exceedances",
		"health_last", "health_slope", "prediction", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range reports {
		record := []string{
			strconv.Itoa(r.Unit),
			strconv.Itoa(r.BaselineCycles),
			strconv.Itoa(r.ObservedCycles),
			formatFloat(r.Baseline.Mean, 6),
			formatFloat(r.Baseline.Max, 6),
			formatFloat(r.Observed.Mean, 6),
			formatFloat(r.Observed.Max, 6),
			strconv.Itoa(r.Observed.ArgMax),
			formatFloat(r.ControlLimit, 6),
			strconv.Itoa(r.Exceedances),
			formatFloat(r.HealthLast, 6),
			formatFloat(r.HealthSlope, 6),
			formatPrediction(r.Prediction),
			r.Err,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64, prec int) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func formatPrediction(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', 2, 64)
}
