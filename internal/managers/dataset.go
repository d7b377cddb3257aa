package managers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chrissnell/turbowatch/internal/predict"
	"github.com/chrissnell/turbowatch/internal/telemetry"
	"go.uber.org/zap"
)

// Snapshot is an immutable view of the loaded datasets. Handlers take a snapshot per
// request and never see a half-finished reload.
type Snapshot struct {
	Train *telemetry.Table
	Test  *telemetry.Table
	// TestNormalized is Test min-max scaled, as fed to the sequence model.
	TestNormalized *telemetry.Table
	LoadedAt       time.Time
	Predictions    *predict.Report
}

// Dataset looks up a table by name: train, test or test_normalized.
func (s *Snapshot) Dataset(name string) (*telemetry.Table, error) {
	switch name {
	case "", "train":
		return s.Train, nil
	case "test":
		return s.Test, nil
	case "test_normalized", "normalized":
		return s.TestNormalized, nil
	default:
		return nil, fmt.Errorf("%w: unknown dataset %q", telemetry.ErrInvalidInput, name)
	}
}

// DatasetManager owns the train/test tables and the latest prediction report.
type DatasetManager struct {
	train     telemetry.Source
	test      telemetry.Source
	exclude   []string
	predictor *predict.Predictor
	logger    *zap.SugaredLogger

	mu       sync.RWMutex
	snapshot *Snapshot
}

// NewDatasetManager creates a manager. predictor may be nil when no model is configured.
func NewDatasetManager(train, test telemetry.Source, exclude []string, predictor *predict.Predictor, logger *zap.SugaredLogger) *DatasetManager {
	return &DatasetManager{
		train:     train,
		test:      test,
		exclude:   exclude,
		predictor: predictor,
		logger:    logger,
	}
}

// ErrNotLoaded is returned by Snapshot before the first successful Reload.
var ErrNotLoaded = errors.New("datasets not loaded")

// Snapshot returns the current datasets.
func (m *DatasetManager) Snapshot() (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot == nil {
		return nil, ErrNotLoaded
	}
	return m.snapshot, nil
}

// Reload reads both sources and swaps in a new snapshot. On failure the previous
// snapshot stays active.
func (m *DatasetManager) Reload(ctx context.Context) error {
	train, err := m.train.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading train dataset: %w", err)
	}
	test, err := m.test.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading test dataset: %w", err)
	}

	for name, t := range map[string]*telemetry.Table{"train": train, "test": test} {
		if v := t.CheckCycleOrder(); len(v) > 0 {
			m.logger.Warnf("%s dataset has %d rows out of cycle order (first: unit %d row %d cycle %d after %d); last-window predictions follow table order",
				name, len(v), v[0].Unit, v[0].Row, v[0].Cycle, v[0].PreviousCycle)
		}
	}

	normalized, err := test.Normalize(m.exclude)
	if err != nil {
		return fmt.Errorf("normalizing test dataset: %w", err)
	}

	snap := &Snapshot{
		Train:          train,
		Test:           test,
		TestNormalized: normalized,
		LoadedAt:       time.Now().UTC(),
	}

	if m.predictor != nil {
		report, err := m.predictor.PredictLastSequences(ctx, normalized)
		if err != nil {
			m.logger.Errorf("prediction run failed: %v", err)
		} else {
			snap.Predictions = report
		}
	}

	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()

	m.logger.Infof("datasets loaded: train %d rows / %d units, test %d rows / %d units",
		train.Len(), len(train.Units()), test.Len(), len(test.Units()))
	return nil
}

// Predict reruns the predictor on the current normalized test table and records the
// report in the snapshot.
func (m *DatasetManager) Predict(ctx context.Context) (*predict.Report, error) {
	if m.predictor == nil {
		return nil, fmt.Errorf("no model configured")
	}
	snap, err := m.Snapshot()
	if err != nil {
		return nil, err
	}

	report, err := m.predictor.PredictLastSequences(ctx, snap.TestNormalized)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.snapshot == snap {
		next := *snap
		next.Predictions = report
		m.snapshot = &next
	}
	m.mu.Unlock()

	return report, nil
}

// HasPredictor reports whether a model is configured.
func (m *DatasetManager) HasPredictor() bool {
	return m.predictor != nil
}

// Predictor returns the configured predictor, or nil.
func (m *DatasetManager) Predictor() *predict.Predictor {
	return m.predictor
}
