package restserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chrissnell/turbowatch/internal/health"
	"github.com/chrissnell/turbowatch/internal/managers"
	"github.com/chrissnell/turbowatch/internal/predict"
	"github.com/chrissnell/turbowatch/internal/telemetry"
	"github.com/chrissnell/turbowatch/pkg/responseformat"
	"go.uber.org/zap"
)

type tableSource struct {
	table *telemetry.Table
}

func (s tableSource) Load(context.Context) (*telemetry.Table, error) {
	return s.table, nil
}

// fixture builds a table with six cycles of unit 1 and three of unit 2.
func fixture(t *testing.T) *telemetry.Table {
	t.Helper()
	readings := map[int][][4]float64{
		1: {{1, 2, 1, 5}, {2, 1, 3, 3}, {3, 4, 2, 1}, {4, 3, 5, 2}, {5, 6, 4, 4}, {6, 5, 6, 6}},
		2: {{1, 1, 1, 1}, {2, 3, 2, 2}, {3, 2, 4, 3}},
	}
	var rows []telemetry.Row
	for _, unit := range []int{1, 2} {
		for i, r := range readings[unit] {
			rows = append(rows, telemetry.Row{Unit: unit, Cycle: i + 1, Values: []float64{r[0], r[1], r[2], r[3]}})
		}
	}
	tbl, err := telemetry.NewTable("unit_ID", "time_in_cycles", []string{"T30", "T50", "Nc", "NRc"}, rows)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tbl
}

func newRouter(t *testing.T, model predict.Model) http.Handler {
	t.Helper()
	logger := zap.NewNop().Sugar()
	tbl := fixture(t)

	var p *predict.Predictor
	if model != nil {
		p = &predict.Predictor{Model: model, SequenceLength: 4, Columns: []string{"T30", "cycle_norm"}, Parallelism: 1, Logger: logger}
	}
	dm := managers.NewDatasetManager(tableSource{tbl}, tableSource{tbl}, nil, p, logger)
	if err := dm.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	settings := Settings{
		AnomalySensors: []string{"T30", "T50"},
		Alpha:          0.05,
		HealthSensors:  health.DefaultSensors,
		HealthWeights:  health.DefaultWeights(),
	}
	return NewHandlers(dm, settings, logger).Router()
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func TestErrorStatuses(t *testing.T) {
	h := newRouter(t, nil)

	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"unknown unit", "/api/units/99/tsquare", http.StatusNotFound, "unit_not_found"},
		{"unknown sensor", "/api/units/1/tsquare?sensors=T30,bogus", http.StatusBadRequest, "invalid_input"},
		{"duplicate sensor", "/api/units/1/tsquare?sensors=T30,T30", http.StatusBadRequest, "invalid_input"},
		{"too few rows", "/api/units/2/tsquare?sensors=T30,T50,Nc", http.StatusUnprocessableEntity, "singular_covariance"},
		{"unknown dataset", "/api/units?dataset=validation", http.StatusBadRequest, "invalid_input"},
		{"alpha out of range", "/api/units/1/tsquare/compare?alpha=2", http.StatusBadRequest, "invalid_input"},
		{"alpha not a number", "/api/units/1/tsquare/compare?alpha=x", http.StatusBadRequest, "invalid_input"},
		{"three weights", "/api/units/1/health?weights=1,2,3", http.StatusBadRequest, "invalid_input"},
		{"no model window", "/api/units/1/window", http.StatusNotFound, "no_model"},
		{"no model predictions", "/api/predictions", http.StatusNotFound, "no_model"},
		{"unknown series column", "/api/units/1/sensors/bogus", http.StatusBadRequest, "invalid_input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, tt.target)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			var body responseformat.ErrorBody
			decode(t, rec, &body)
			if body.Error != tt.code {
				t.Errorf("error code = %q, want %q", body.Error, tt.code)
			}
			if body.Message == "" {
				t.Error("empty error message")
			}
		})
	}
}

func TestNotLoaded(t *testing.T) {
	logger := zap.NewNop().Sugar()
	dm := managers.NewDatasetManager(tableSource{}, tableSource{}, nil, nil, logger)
	h := NewHandlers(dm, Settings{}, logger).Router()

	for _, target := range []string{"/api/status", "/api/units", "/metrics"} {
		if rec := get(t, h, target); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503", target, rec.Code)
		}
	}
}

func TestGetUnits(t *testing.T) {
	rec := get(t, newRouter(t, nil), "/api/units?dataset=test")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp UnitsResponse
	decode(t, rec, &resp)
	if resp.Dataset != "test" || len(resp.Units) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Summaries[0] != "unit 1 completed 6 cycles" {
		t.Errorf("summary = %q", resp.Summaries[0])
	}
}

func TestGetSensors(t *testing.T) {
	h := newRouter(t, nil)

	var grid SeriesResponse
	decode(t, get(t, h, "/api/units/2/sensors"), &grid)
	if len(grid.Series) != 4 {
		t.Fatalf("got %d series, want the four health sensors", len(grid.Series))
	}
	if pts := grid.Series["T50"]; len(pts) != 3 || pts[1].Cycle != 2 || pts[1].Value != 3 {
		t.Errorf("T50 series = %+v", pts)
	}

	var one SeriesResponse
	decode(t, get(t, h, "/api/units/1/sensors/NRc"), &one)
	if len(one.Series) != 1 || len(one.Series["NRc"]) != 6 {
		t.Errorf("single series = %+v", one.Series)
	}
}

func TestGetTSquare(t *testing.T) {
	rec := get(t, newRouter(t, nil), "/api/units/1/tsquare")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp TSquareResponse
	decode(t, rec, &resp)
	if len(resp.Values) != 6 || len(resp.Cycles) != 6 {
		t.Fatalf("got %d values and %d cycles, want 6", len(resp.Values), len(resp.Cycles))
	}
	var sum float64
	for _, v := range resp.Values {
		if v < 0 {
			t.Errorf("negative T-square %v", v)
		}
		sum += v
	}
	// Sum of in-sample T-square is p(n-1).
	if want := 2.0 * 5; sum < want-1e-6 || sum > want+1e-6 {
		t.Errorf("sum = %v, want %v", sum, want)
	}
}

func TestGetTSquareComparison(t *testing.T) {
	rec := get(t, newRouter(t, nil), "/api/units/1/tsquare/compare?sensors=T30,T50")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp ComparisonResponse
	decode(t, rec, &resp)
	if len(resp.Baseline) != 6 || len(resp.Observed) != 6 {
		t.Fatalf("unexpected lengths %d/%d", len(resp.Baseline), len(resp.Observed))
	}
	// A self-referenced series of six rows never exceeds 25/6, so its limit must too.
	if resp.ControlLimit == nil || *resp.ControlLimit <= 0 || *resp.ControlLimit >= 25.0/6 {
		t.Errorf("control limit = %v", resp.ControlLimit)
	}
	if resp.BaselineLimit == nil || resp.ReferenceLimit == nil || *resp.ReferenceLimit <= *resp.ControlLimit {
		t.Errorf("baseline limit = %v, reference limit = %v", resp.BaselineLimit, resp.ReferenceLimit)
	}
	if resp.Alpha != 0.05 {
		t.Errorf("alpha = %v, want the configured 0.05", resp.Alpha)
	}
}

func TestComparisonFlagsShiftedOutlier(t *testing.T) {
	logger := zap.NewNop().Sugar()
	cols := []string{"T30", "T50"}

	var trainRows, testRows []telemetry.Row
	for i, r := range [][2]float64{{1, 2}, {2, 1}, {3, 4}, {4, 3}, {5, 6}, {6, 5}, {7, 7}, {8, 6}} {
		trainRows = append(trainRows, telemetry.Row{Unit: 1, Cycle: i + 1, Values: []float64{r[0], r[1]}})
	}
	dx := []float64{0, 1, 2, 0, 1, 2, 0, 1, 2, 0, 1}
	dy := []float64{0, 0, 1, 1, 2, 2, 0, 1, 2, 1, 0}
	for i := range dx {
		testRows = append(testRows, telemetry.Row{Unit: 1, Cycle: i + 1, Values: []float64{1000 + dx[i], 1000 + dy[i]}})
	}
	testRows = append(testRows, telemetry.Row{Unit: 1, Cycle: 12, Values: []float64{5000, -3000}})

	train, err := telemetry.NewTable("unit_ID", "time_in_cycles", cols, trainRows)
	if err != nil {
		t.Fatal(err)
	}
	test, err := telemetry.NewTable("unit_ID", "time_in_cycles", cols, testRows)
	if err != nil {
		t.Fatal(err)
	}
	dm := managers.NewDatasetManager(tableSource{train}, tableSource{test}, nil, nil, logger)
	if err := dm.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	h := NewHandlers(dm, Settings{AnomalySensors: cols, Alpha: 0.01}, logger).Router()

	var resp ComparisonResponse
	decode(t, get(t, h, "/api/units/1/tsquare/compare"), &resp)
	if len(resp.Exceedances) != 1 || resp.Exceedances[0] != 11 {
		t.Errorf("exceedances = %v against limit %v, want [11]", resp.Exceedances, resp.ControlLimit)
	}
}

func TestGetHealthIndex(t *testing.T) {
	rec := get(t, newRouter(t, nil), "/api/units/2/health?weights=1,0,0,0")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp HealthResponse
	decode(t, rec, &resp)
	want := []float64{0, 0.5, 1}
	if len(resp.Points) != len(want) {
		t.Fatalf("got %d points", len(resp.Points))
	}
	for i, p := range resp.Points {
		if p.Value != want[i] {
			t.Errorf("point %d = %v, want %v", i, p.Value, want[i])
		}
	}
}

func TestPredictions(t *testing.T) {
	calls := 0
	model := predict.ModelFunc(func(_ context.Context, batch [][][]float64) ([][]float64, error) {
		calls++
		return [][]float64{{float64(len(batch[0]))}}, nil
	})
	h := newRouter(t, model)

	var report predict.Report
	decode(t, get(t, h, "/api/predictions"), &report)
	if len(report.Units) != 2 {
		t.Fatalf("got %d units", len(report.Units))
	}
	if report.Units[0].Status != predict.StatusOK || report.Units[0].Value == nil || *report.Units[0].Value != 4 {
		t.Errorf("unit 1 = %+v", report.Units[0])
	}
	if report.Units[1].Status != predict.StatusMissing {
		t.Errorf("unit 2 = %+v, want missing", report.Units[1])
	}

	before := calls
	decode(t, get(t, h, "/api/predictions?refresh=true"), &report)
	if calls != before+1 {
		t.Errorf("refresh made %d model calls, want 1", calls-before)
	}

	var window WindowResponse
	decode(t, get(t, h, "/api/units/1/window"), &window)
	if window.Status != predict.StatusOK {
		t.Errorf("unit 1 window status = %q, want ok", window.Status)
	}
	if len(window.Window) != 4 || len(window.Window[0]) != 2 {
		t.Fatalf("window shape = %dx?", len(window.Window))
	}
	if got := window.Window[3][1]; got != 1 {
		t.Errorf("last cycle_norm = %v, want 1", got)
	}
}

func TestShortUnitWindowIsMissing(t *testing.T) {
	model := predict.ModelFunc(func(_ context.Context, batch [][][]float64) ([][]float64, error) {
		return [][]float64{{1}}, nil
	})
	h := newRouter(t, model)

	// unit 2 has 3 test cycles, one fewer than the sequence length
	rec := get(t, h, "/api/units/2/window")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var raw map[string]json.RawMessage
	decode(t, rec, &raw)
	if _, ok := raw["window"]; ok {
		t.Errorf("short unit carries a window: %s", rec.Body.String())
	}

	var window WindowResponse
	decode(t, rec, &window)
	if window.Status != predict.StatusMissing || window.Unit != 2 || window.SequenceLength != 4 {
		t.Errorf("window = %+v, want missing unit 2", window)
	}
}

func TestMetricsAndStatus(t *testing.T) {
	h := newRouter(t, nil)

	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "turbowatch_dataset_rows") {
		t.Errorf("metrics missing dataset rows:\n%s", rec.Body.String())
	}

	var status StatusResponse
	decode(t, get(t, h, "/api/status"), &status)
	if status.Datasets["train"].Rows != 9 || status.Model {
		t.Errorf("status = %+v", status)
	}
}

func TestMsgPackFormat(t *testing.T) {
	rec := get(t, newRouter(t, nil), "/api/units?format=msgpack")
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-msgpack" {
		t.Errorf("Content-Type = %q", ct)
	}
}
