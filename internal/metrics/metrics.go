// Package metrics renders dataset and prediction state in the Prometheus text format.
package metrics

import (
	"io"
	"sort"
	"strconv"

	"github.com/chrissnell/turbowatch/internal/predict"
	"github.com/chrissnell/turbowatch/internal/telemetry"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

const namespace = "turbowatch"

// Snapshot is the state exposed on one scrape.
type Snapshot struct {
	// Datasets maps a dataset name (train, test) to its table.
	Datasets map[string]*telemetry.Table
	// Predictions may be nil when no model is configured.
	Predictions *predict.Report
}

// Families builds the metric families for s, sorted by name.
func Families(s Snapshot) []*dto.MetricFamily {
	rows := gaugeFamily("dataset_rows", "Rows loaded per dataset.")
	units := gaugeFamily("dataset_units", "Distinct units per dataset.")
	cycles := gaugeFamily("unit_cycles", "Recorded cycles per unit and dataset.")

	names := make([]string, 0, len(s.Datasets))
	for name := range s.Datasets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := s.Datasets[name]
		if t == nil {
			continue
		}
		ds := label("dataset", name)
		rows.Metric = append(rows.Metric, gauge(float64(t.Len()), ds))
		units.Metric = append(units.Metric, gauge(float64(len(t.Units())), ds))
		for _, c := range t.CountCyclesByUnit() {
			cycles.Metric = append(cycles.Metric, gauge(float64(c.Cycles), ds, label("unit", strconv.Itoa(c.Unit))))
		}
	}

	families := []*dto.MetricFamily{rows, units, cycles}

	if r := s.Predictions; r != nil {
		value := gaugeFamily("unit_prediction", "Latest model prediction per unit.")
		status := gaugeFamily("unit_prediction_status", "Units per prediction outcome.")
		for _, u := range r.Units {
			if u.Status == predict.StatusOK && u.Value != nil {
				value.Metric = append(value.Metric, gauge(*u.Value, label("unit", strconv.Itoa(u.Unit))))
			}
		}
		counts := r.Counts()
		for _, st := range []predict.Status{predict.StatusOK, predict.StatusMissing, predict.StatusError} {
			status.Metric = append(status.Metric, gauge(float64(counts[st]), label("status", string(st))))
		}
		families = append(families, value, status)
	}

	sort.Slice(families, func(i, j int) bool {
		return families[i].GetName() < families[j].GetName()
	})
	return families
}

// Write encodes the snapshot in the Prometheus text exposition format.
func Write(w io.Writer, s Snapshot) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range Families(s) {
		if len(mf.Metric) == 0 {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// ContentType is the Content-Type header value for Write's output.
func ContentType() string {
	return string(expfmt.NewFormat(expfmt.TypeTextPlain))
}

func gaugeFamily(name, help string) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(namespace + "_" + name),
		Help: proto.String(help),
		Type: dto.MetricType_GAUGE.Enum(),
	}
}

func gauge(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{
		Label: labels,
		Gauge: &dto.Gauge{Value: proto.Float64(v)},
	}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: proto.String(name), Value: proto.String(value)}
}
