// Package predict runs a trained sequence model over the most recent window of every
// unit in a telemetry table.
package predict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/chrissnell/turbowatch/internal/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidModelOutput marks a model response that does not hold a usable prediction.
var ErrInvalidModelOutput = errors.New("invalid model output")

// Status tags the outcome for a single unit.
type Status string

const (
	StatusOK      Status = "ok"
	StatusMissing Status = "missing" // fewer rows than the sequence length
	StatusError   Status = "error"
)

// UnitPrediction is the outcome for one unit.
type UnitPrediction struct {
	Unit   int    `json:"unit"`
	Status Status `json:"status"`
	// Value is set only when Status is StatusOK. A zero prediction is still encoded.
	Value *float64 `json:"value"`
	Rows  int      `json:"rows"`
	Err   error    `json:"-"`
	Error string   `json:"error,omitempty"`
}

// Report holds one prediction outcome per unit, ascending by unit.
type Report struct {
	ID             string           `json:"id"`
	GeneratedAt    time.Time        `json:"generated_at"`
	SequenceLength int              `json:"sequence_length"`
	Columns        []string         `json:"columns"`
	Units          []UnitPrediction `json:"units"`
}

// Values maps every unit to its prediction, or nil when the unit was missing or failed.
func (r *Report) Values() map[int]*float64 {
	out := make(map[int]*float64, len(r.Units))
	for _, u := range r.Units {
		if u.Status == StatusOK && u.Value != nil {
			v := *u.Value
			out[u.Unit] = &v
		} else {
			out[u.Unit] = nil
		}
	}
	return out
}

// Counts tallies the units per status.
func (r *Report) Counts() map[Status]int {
	out := make(map[Status]int, 3)
	for _, u := range r.Units {
		out[u.Status]++
	}
	return out
}

// Predictor extracts last windows and feeds them to Model.
type Predictor struct {
	Model          Model
	SequenceLength int
	Columns        []string

	// Parallelism bounds how many units are in flight at once. Values below 2 run the
	// units one after another.
	Parallelism int

	Logger *zap.SugaredLogger
}

// LastWindow returns the last length rows of unit, in table order, restricted to columns.
// It returns nil without error when the unit has fewer rows than length.
//
// The table must list each unit's rows in ascending cycle order; rows are not re-sorted.
func LastWindow(t *telemetry.Table, unit, length int, columns []string) ([][]float64, error) {
	if length < 1 {
		return nil, fmt.Errorf("%w: sequence length %d", telemetry.ErrInvalidInput, length)
	}
	m, err := t.Matrix(unit, columns)
	if err != nil {
		return nil, err
	}
	if len(m) < length {
		return nil, nil
	}
	return m[len(m)-length:], nil
}

// PredictLastSequences produces one outcome per distinct unit of t. Selection errors
// fail the whole call; a failing unit is recorded in the report and the remaining units
// still run.
func (p *Predictor) PredictLastSequences(ctx context.Context, t *telemetry.Table) (*Report, error) {
	if p.Model == nil {
		return nil, fmt.Errorf("%w: no model configured", telemetry.ErrInvalidInput)
	}
	if p.SequenceLength < 1 {
		return nil, fmt.Errorf("%w: sequence length %d", telemetry.ErrInvalidInput, p.SequenceLength)
	}
	idx, err := t.Select(p.Columns)
	if err != nil {
		return nil, err
	}

	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	units := t.Units()
	groups := t.RowsByUnit()
	report := &Report{
		ID:             uuid.NewString(),
		GeneratedAt:    time.Now().UTC(),
		SequenceLength: p.SequenceLength,
		Columns:        append([]string(nil), p.Columns...),
		Units:          make([]UnitPrediction, len(units)),
	}

	run := func(i int) {
		unit := units[i]
		rows := groups[unit]
		res := UnitPrediction{Unit: unit, Rows: len(rows)}

		if len(rows) < p.SequenceLength {
			res.Status = StatusMissing
			report.Units[i] = res
			return
		}

		window := make([][]float64, p.SequenceLength)
		for k, r := range rows[len(rows)-p.SequenceLength:] {
			vals := make([]float64, len(idx))
			for c, j := range idx {
				vals[c] = t.Rows[r].Values[j]
			}
			window[k] = vals
		}

		v, err := p.predictOne(ctx, window)
		if err != nil {
			logger.Warnf("prediction for unit %d failed: %v", unit, err)
			res.Status = StatusError
			res.Err = err
			res.Error = err.Error()
		} else {
			res.Status = StatusOK
			res.Value = &v
		}
		report.Units[i] = res
	}

	if p.Parallelism < 2 {
		for i := range units {
			run(i)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(p.Parallelism)
		for i := range units {
			i := i
			g.Go(func() error {
				run(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	c := report.Counts()
	logger.Debugf("predicted %d units: %d ok, %d missing, %d failed",
		len(units), c[StatusOK], c[StatusMissing], c[StatusError])

	return report, nil
}

// predictOne sends a single-sample batch and takes the first element of the first
// returned vector.
func (p *Predictor) predictOne(ctx context.Context, window [][]float64) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: model panicked: %v", ErrInvalidModelOutput, r)
		}
	}()

	out, err := p.Model.Predict(ctx, [][][]float64{window})
	if err != nil {
		if errors.Is(err, ErrInvalidModelOutput) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrInvalidModelOutput, err)
	}
	if len(out) == 0 || len(out[0]) == 0 {
		return 0, fmt.Errorf("%w: empty prediction", ErrInvalidModelOutput)
	}
	v = out[0][0]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: non-finite prediction %v", ErrInvalidModelOutput, v)
	}
	return v, nil
}
