package metrics

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chrissnell/turbowatch/internal/predict"
	"github.com/chrissnell/turbowatch/internal/telemetry"
	"github.com/prometheus/common/expfmt"
)

func TestWrite(t *testing.T) {
	tbl, err := telemetry.NewTable("unit_ID", "time_in_cycles", []string{"T30"}, []telemetry.Row{
		{Unit: 1, Cycle: 1, Values: []float64{1}},
		{Unit: 1, Cycle: 2, Values: []float64{1}},
		{Unit: 2, Cycle: 1, Values: []float64{1}},
	})
	if err != nil {
		t.Fatal(err)
	}

	rul := 112.5
	report := &predict.Report{Units: []predict.UnitPrediction{
		{Unit: 1, Status: predict.StatusOK, Value: &rul},
		{Unit: 2, Status: predict.StatusMissing},
	}}

	var buf bytes.Buffer
	if err := Write(&buf, Snapshot{Datasets: map[string]*telemetry.Table{"test": tbl}, Predictions: report}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("output is not valid exposition text: %v\n%s", err, buf.String())
	}

	rows := families["turbowatch_dataset_rows"]
	if rows == nil || rows.Metric[0].GetGauge().GetValue() != 3 {
		t.Errorf("expected dataset_rows 3, got %v", rows)
	}
	pred := families["turbowatch_unit_prediction"]
	if pred == nil || len(pred.Metric) != 1 || pred.Metric[0].GetGauge().GetValue() != 112.5 {
		t.Errorf("expected one prediction gauge of 112.5, got %v", pred)
	}
	if st := families["turbowatch_unit_prediction_status"]; st == nil || len(st.Metric) != 3 {
		t.Errorf("expected three status gauges, got %v", st)
	}
	if c := families["turbowatch_unit_cycles"]; c == nil || len(c.Metric) != 2 {
		t.Errorf("expected two unit_cycles gauges, got %v", c)
	}
}

func TestWriteWithoutPredictions(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Snapshot{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(buf.String(), "unit_prediction") {
		t.Errorf("did not expect prediction metrics:\n%s", buf.String())
	}
}
