package managers

import (
	"context"
	"errors"
	"testing"

	"github.com/chrissnell/turbowatch/internal/predict"
	"github.com/chrissnell/turbowatch/internal/telemetry"
	"go.uber.org/zap"
)

type staticSource struct {
	table *telemetry.Table
	err   error
	calls int
}

func (s *staticSource) Load(context.Context) (*telemetry.Table, error) {
	s.calls++
	return s.table, s.err
}

func table(t *testing.T, counts map[int]int) *telemetry.Table {
	t.Helper()
	var rows []telemetry.Row
	for u := 1; u <= len(counts); u++ {
		for i := 0; i < counts[u]; i++ {
			rows = append(rows, telemetry.Row{Unit: u, Cycle: i + 1, Values: []float64{float64(i), float64(u)}})
		}
	}
	tbl, err := telemetry.NewTable("unit_ID", "time_in_cycles", []string{"s1", "s2"}, rows)
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

func TestDatasetManagerReload(t *testing.T) {
	train := &staticSource{table: table(t, map[int]int{1: 5, 2: 5})}
	test := &staticSource{table: table(t, map[int]int{1: 2, 2: 4})}

	var calls int
	predictor := &predict.Predictor{
		Model: predict.ModelFunc(func(_ context.Context, batch [][][]float64) ([][]float64, error) {
			calls++
			return [][]float64{{float64(len(batch[0]))}}, nil
		}),
		SequenceLength: 3,
		Columns:        []string{"s1", "cycle_norm"},
	}

	m := NewDatasetManager(train, test, []string{"s2"}, predictor, zap.NewNop().Sugar())
	if _, err := m.Snapshot(); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}

	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap, err := m.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if !snap.TestNormalized.HasColumn(telemetry.CycleNormColumn) {
		t.Error("expected the normalized test table to carry cycle_norm")
	}
	if snap.Predictions == nil || len(snap.Predictions.Units) != 2 {
		t.Fatalf("expected a prediction report for two units, got %+v", snap.Predictions)
	}
	if snap.Predictions.Units[0].Status != predict.StatusMissing || snap.Predictions.Units[1].Status != predict.StatusOK {
		t.Errorf("unexpected statuses %+v", snap.Predictions.Units)
	}
	if calls != 1 {
		t.Errorf("expected one model call, got %d", calls)
	}

	if _, err := m.Predict(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected a second model call, got %d", calls)
	}

	// a failing reload keeps the previous snapshot
	test.err = errors.New("disk gone")
	if err := m.Reload(context.Background()); err == nil {
		t.Fatal("expected reload error")
	}
	if again, _ := m.Snapshot(); again.Test == nil || again.Test.Len() != 6 {
		t.Error("previous snapshot should survive a failed reload")
	}
}

func TestSnapshotDataset(t *testing.T) {
	snap := &Snapshot{Train: table(t, map[int]int{1: 1})}
	if got, err := snap.Dataset(""); err != nil || got != snap.Train {
		t.Errorf("expected train as the default dataset, got %v (%v)", got, err)
	}
	if _, err := snap.Dataset("validation"); !errors.Is(err, telemetry.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPredictWithoutModel(t *testing.T) {
	m := NewDatasetManager(&staticSource{}, &staticSource{}, nil, nil, zap.NewNop().Sugar())
	if m.HasPredictor() {
		t.Error("expected no predictor")
	}
	if _, err := m.Predict(context.Background()); err == nil {
		t.Error("expected an error without a model")
	}
}
