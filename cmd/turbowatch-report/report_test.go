package main

import (
	"bytes"
	"encoding/csv"
	"math"
	"strings"
	"testing"

	"github.com/chrissnell/turbowatch/internal/health"
	"github.com/chrissnell/turbowatch/internal/managers"
	"github.com/chrissnell/turbowatch/internal/telemetry"
)

func snapshot(t *testing.T) *managers.Snapshot {
	t.Helper()
	var rows []telemetry.Row
	// Unit 1 drifts upward over eight cycles; unit 2 only has two cycles.
	t30 := []float64{1, 3, 2, 4, 3, 5, 6, 8}
	t50 := []float64{2, 1, 3, 2, 4, 3, 5, 4}
	for i := range t30 {
		rows = append(rows, telemetry.Row{Unit: 1, Cycle: i + 1, Values: []float64{t30[i], t50[i], float64(i), float64(i * i)}})
	}
	rows = append(rows,
		telemetry.Row{Unit: 2, Cycle: 1, Values: []float64{1, 1, 1, 1}},
		telemetry.Row{Unit: 2, Cycle: 2, Values: []float64{2, 2, 2, 2}},
	)
	tbl, err := telemetry.NewTable("unit_ID", "time_in_cycles", []string{"T30", "T50", "Nc", "NRc"}, rows)
	if err != nil {
		t.Fatal(err)
	}
	return &managers.Snapshot{Train: tbl, Test: tbl}
}

func options() Options {
	return Options{
		Sensors:       []string{"T30", "T50"},
		Alpha:         0.05,
		HealthSensors: health.DefaultSensors,
		HealthWeights: health.Weights{0, 0, 1, 0},
	}
}

func TestBuildReport(t *testing.T) {
	reports := BuildReport(snapshot(t), options())
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}

	r := reports[0]
	if r.Err != "" {
		t.Fatalf("unit 1 error: %s", r.Err)
	}
	if r.BaselineCycles != 8 || r.ObservedCycles != 8 {
		t.Errorf("cycles = %d/%d", r.BaselineCycles, r.ObservedCycles)
	}
	if math.IsNaN(r.ControlLimit) || r.ControlLimit <= 0 {
		t.Errorf("control limit = %v", r.ControlLimit)
	}
	// Nc rises linearly from 0 to 7, so its normalized value grows by 1/7 per cycle.
	if math.Abs(r.HealthSlope-1.0/7) > 1e-9 {
		t.Errorf("health slope = %v, want %v", r.HealthSlope, 1.0/7)
	}
	if r.HealthLast != 1 {
		t.Errorf("health last = %v, want 1", r.HealthLast)
	}

	// Two rows over two sensors cannot yield a covariance inverse.
	if reports[1].Err == "" {
		t.Error("expected an error for unit 2")
	}
}

func TestBuildReportMatchesPerUnitHealth(t *testing.T) {
	snap := snapshot(t)
	opts := options()
	opts.HealthWeights = health.DefaultWeights()

	for _, r := range BuildReport(snap, opts) {
		points, err := health.ForUnit(snap.Test, r.Unit, opts.HealthWeights, opts.HealthSensors)
		if err != nil {
			t.Fatal(err)
		}
		if last := points[len(points)-1].Value; r.HealthLast != last {
			t.Errorf("unit %d: health last = %v, want %v", r.Unit, r.HealthLast, last)
		}
	}
}

func TestBuildReportFlagsShiftedOutlier(t *testing.T) {
	train := snapshot(t).Train

	dx := []float64{0, 1, 2, 0, 1, 2, 0, 1, 2, 0, 1}
	dy := []float64{0, 0, 1, 1, 2, 2, 0, 1, 2, 1, 0}
	var rows []telemetry.Row
	for i := range dx {
		rows = append(rows, telemetry.Row{Unit: 1, Cycle: i + 1, Values: []float64{1000 + dx[i], 1000 + dy[i], float64(i), 1}})
	}
	rows = append(rows, telemetry.Row{Unit: 1, Cycle: 12, Values: []float64{5000, -3000, 11, 1}})
	test, err := telemetry.NewTable("unit_ID", "time_in_cycles", []string{"T30", "T50", "Nc", "NRc"}, rows)
	if err != nil {
		t.Fatal(err)
	}

	opts := options()
	opts.Alpha = 0.01
	reports := BuildReport(&managers.Snapshot{Train: train, Test: test}, opts)
	if len(reports) != 1 || reports[0].Err != "" {
		t.Fatalf("unexpected reports %+v", reports)
	}
	r := reports[0]
	if r.Exceedances != 1 || r.Observed.ArgMax != 11 {
		t.Errorf("exceedances = %d (peak at %d, limit %v), want the last cycle flagged", r.Exceedances, r.Observed.ArgMax, r.ControlLimit)
	}
	if r.ControlLimit >= 121.0/12 {
		t.Errorf("control limit %v is unreachable for a 12-cycle series", r.ControlLimit)
	}
}

func TestBuildReportSingleUnit(t *testing.T) {
	opts := options()
	opts.Unit = 2
	reports := BuildReport(snapshot(t), opts)
	if len(reports) != 1 || reports[0].Unit != 2 {
		t.Fatalf("unexpected reports %+v", reports)
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, BuildReport(snapshot(t), options())); err != nil {
		t.Fatal(err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want header plus 2", len(records))
	}
	if records[0][0] != "unit" || records[1][0] != "1" {
		t.Errorf("unexpected records %v", records[:2])
	}
	if records[2][len(records[2])-1] == "" {
		t.Error("unit 2 should carry its error message")
	}
}

func TestPrintReport(t *testing.T) {
	snap := snapshot(t)
	var buf bytes.Buffer
	PrintReport(&buf, snap, options(), BuildReport(snap, options()))

	out := buf.String()
	for _, want := range []string{"unit 1 completed 8 cycles", "unit 2 completed 2 cycles", "singular covariance"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}
