package restserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chrissnell/turbowatch/internal/anomaly"
	"github.com/chrissnell/turbowatch/internal/constants"
	"github.com/chrissnell/turbowatch/internal/health"
	"github.com/chrissnell/turbowatch/internal/managers"
	"github.com/chrissnell/turbowatch/internal/metrics"
	"github.com/chrissnell/turbowatch/internal/predict"
	"github.com/chrissnell/turbowatch/internal/telemetry"
	"github.com/chrissnell/turbowatch/pkg/responseformat"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Handlers serves the dashboard API from the dataset manager's current snapshot.
type Handlers struct {
	datasets  *managers.DatasetManager
	settings  Settings
	formatter *responseformat.Formatter
	logger    *zap.SugaredLogger
}

// NewHandlers creates the API handlers.
func NewHandlers(datasets *managers.DatasetManager, settings Settings, logger *zap.SugaredLogger) *Handlers {
	return &Handlers{
		datasets:  datasets,
		settings:  settings,
		formatter: responseformat.NewFormatter(),
		logger:    logger,
	}
}

// DatasetStatus summarizes one loaded table.
type DatasetStatus struct {
	Rows    int      `json:"rows"`
	Units   int      `json:"units"`
	Columns []string `json:"columns"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Version     string                   `json:"version"`
	LoadedAt    time.Time                `json:"loaded_at"`
	Datasets    map[string]DatasetStatus `json:"datasets"`
	Model       bool                     `json:"model"`
	Predictions map[predict.Status]int   `json:"predictions,omitempty"`
}

// UnitsResponse lists units with their cycle counts.
type UnitsResponse struct {
	Dataset   string                 `json:"dataset"`
	Units     []telemetry.CycleCount `json:"units"`
	Summaries []string               `json:"summaries"`
}

// SeriesResponse holds one or more per-unit sensor series.
type SeriesResponse struct {
	Dataset string                       `json:"dataset"`
	Unit    int                          `json:"unit"`
	Series  map[string][]telemetry.Point `json:"series"`
}

// TSquareResponse is the T² series of one unit.
type TSquareResponse struct {
	Dataset string          `json:"dataset"`
	Unit    int             `json:"unit"`
	Sensors []string        `json:"sensors"`
	Cycles  []int           `json:"cycles"`
	Values  []float64       `json:"values"`
	Summary anomaly.Summary `json:"summary"`
}

// ComparisonResponse is the baseline/observed T² pair of one unit.
type ComparisonResponse struct {
	Unit            int             `json:"unit"`
	Sensors         []string        `json:"sensors"`
	Baseline        []float64       `json:"baseline"`
	Observed        []float64       `json:"observed"`
	BaselineSummary anomaly.Summary `json:"baseline_summary"`
	ObservedSummary anomaly.Summary `json:"observed_summary"`
	Alpha           float64         `json:"alpha"`
	// BaselineLimit and ControlLimit are phase I limits for each series against its own
	// statistics. Exceedances index into Observed.
	BaselineLimit       *float64 `json:"baseline_limit,omitempty"`
	BaselineExceedances []int    `json:"baseline_exceedances,omitempty"`
	ControlLimit        *float64 `json:"control_limit,omitempty"`
	Exceedances         []int    `json:"exceedances,omitempty"`
	// ReferenceLimit is the baseline's limit for a new observation scored against the
	// baseline mean and covariance. It is a reference line only; neither series above
	// is scored that way.
	ReferenceLimit *float64 `json:"reference_limit,omitempty"`
}

// HealthResponse is the health index series of one unit.
type HealthResponse struct {
	Dataset string            `json:"dataset"`
	Unit    int               `json:"unit"`
	Sensors health.Sensors    `json:"sensors"`
	Weights health.Weights    `json:"weights"`
	Points  []telemetry.Point `json:"points"`
}

// WindowResponse is the model input window for one unit. Status is missing and
// Window is omitted when the unit has fewer cycles than the sequence length.
type WindowResponse struct {
	Unit           int            `json:"unit"`
	Status         predict.Status `json:"status"`
	SequenceLength int            `json:"sequence_length"`
	Columns        []string       `json:"columns"`
	Window         [][]float64    `json:"window,omitempty"`
}

// GetStatus handles GET /api/status
func (h *Handlers) GetStatus(w http.ResponseWriter, req *http.Request) {
	snap, err := h.datasets.Snapshot()
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	resp := StatusResponse{
		Version:  constants.Version,
		LoadedAt: snap.LoadedAt,
		Datasets: map[string]DatasetStatus{},
		Model:    h.datasets.HasPredictor(),
	}
	for name, t := range map[string]*telemetry.Table{"train": snap.Train, "test": snap.Test} {
		resp.Datasets[name] = DatasetStatus{Rows: t.Len(), Units: len(t.Units()), Columns: t.Columns}
	}
	if snap.Predictions != nil {
		resp.Predictions = snap.Predictions.Counts()
	}

	h.respond(w, req, resp)
}

// GetUnits handles GET /api/units
func (h *Handlers) GetUnits(w http.ResponseWriter, req *http.Request) {
	name, t, ok := h.dataset(w, req)
	if !ok {
		return
	}

	counts := t.CountCyclesByUnit()
	resp := UnitsResponse{Dataset: name, Units: counts, Summaries: make([]string, len(counts))}
	for i, c := range counts {
		resp.Summaries[i] = c.Summary()
	}

	h.respond(w, req, resp)
}

// GetSensors handles GET /api/units/{unit}/sensors. Without a columns parameter the
// configured health sensors are returned, which is the dashboard's four-sensor grid.
func (h *Handlers) GetSensors(w http.ResponseWriter, req *http.Request) {
	columns := listParam(req, "columns")
	if len(columns) == 0 {
		columns = h.settings.HealthSensors[:]
	}
	h.writeSeries(w, req, columns)
}

// GetSensor handles GET /api/units/{unit}/sensors/{sensor}
func (h *Handlers) GetSensor(w http.ResponseWriter, req *http.Request) {
	h.writeSeries(w, req, []string{mux.Vars(req)["sensor"]})
}

func (h *Handlers) writeSeries(w http.ResponseWriter, req *http.Request, columns []string) {
	unit, ok := h.unit(w, req)
	if !ok {
		return
	}
	name, t, ok := h.dataset(w, req)
	if !ok {
		return
	}
	if _, err := t.Select(columns); err != nil {
		h.writeError(w, req, err)
		return
	}

	resp := SeriesResponse{Dataset: name, Unit: unit, Series: make(map[string][]telemetry.Point, len(columns))}
	for _, col := range columns {
		points, err := t.Series(unit, col)
		if err != nil {
			h.writeError(w, req, err)
			return
		}
		resp.Series[col] = points
	}

	h.respond(w, req, resp)
}

// GetTSquare handles GET /api/units/{unit}/tsquare
func (h *Handlers) GetTSquare(w http.ResponseWriter, req *http.Request) {
	unit, ok := h.unit(w, req)
	if !ok {
		return
	}
	name, t, ok := h.dataset(w, req)
	if !ok {
		return
	}
	sensors := h.sensors(req)

	values, err := anomaly.ComputeTSquare(t, unit, sensors)
	if err != nil {
		h.writeError(w, req, err)
		return
	}
	cycles, err := unitCycles(t, unit)
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	h.respond(w, req, TSquareResponse{
		Dataset: name,
		Unit:    unit,
		Sensors: sensors,
		Cycles:  cycles,
		Values:  values,
		Summary: anomaly.Summarize(values),
	})
}

// GetTSquareComparison handles GET /api/units/{unit}/tsquare/compare. Each series gets
// the phase I limit for its own length; a limit is omitted when the series is too short.
func (h *Handlers) GetTSquareComparison(w http.ResponseWriter, req *http.Request) {
	unit, ok := h.unit(w, req)
	if !ok {
		return
	}
	snap, err := h.datasets.Snapshot()
	if err != nil {
		h.writeError(w, req, err)
		return
	}
	sensors := h.sensors(req)

	alpha := h.settings.Alpha
	if s := req.URL.Query().Get("alpha"); s != "" {
		alpha, err = strconv.ParseFloat(s, 64)
		if err != nil {
			h.writeError(w, req, fmt.Errorf("%w: alpha %q is not a number", telemetry.ErrInvalidInput, s))
			return
		}
	}
	if !(alpha > 0 && alpha < 1) {
		h.writeError(w, req, fmt.Errorf("%w: alpha %v outside (0, 1)", telemetry.ErrInvalidInput, alpha))
		return
	}

	cmp, err := anomaly.CompareBaseline(snap.Train, snap.Test, unit, sensors)
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	resp := ComparisonResponse{
		Unit:            unit,
		Sensors:         sensors,
		Baseline:        cmp.Baseline,
		Observed:        cmp.Observed,
		BaselineSummary: anomaly.Summarize(cmp.Baseline),
		ObservedSummary: anomaly.Summarize(cmp.Observed),
		Alpha:           alpha,
	}
	p := len(sensors)
	if limit, err := anomaly.PhaseOneLimit(len(cmp.Baseline), p, alpha); err == nil {
		resp.BaselineLimit = &limit
		resp.BaselineExceedances = anomaly.Exceedances(cmp.Baseline, limit)
	} else {
		h.logger.Debugf("no baseline limit for unit %d: %v", unit, err)
	}
	if limit, err := anomaly.PhaseOneLimit(len(cmp.Observed), p, alpha); err == nil {
		resp.ControlLimit = &limit
		resp.Exceedances = anomaly.Exceedances(cmp.Observed, limit)
	} else {
		h.logger.Debugf("no control limit for unit %d: %v", unit, err)
	}
	if limit, err := anomaly.ControlLimit(len(cmp.Baseline), p, alpha); err == nil {
		resp.ReferenceLimit = &limit
	}

	h.respond(w, req, resp)
}

// GetHealthIndex handles GET /api/units/{unit}/health
func (h *Handlers) GetHealthIndex(w http.ResponseWriter, req *http.Request) {
	unit, ok := h.unit(w, req)
	if !ok {
		return
	}
	name, t, ok := h.dataset(w, req)
	if !ok {
		return
	}

	weights := h.settings.HealthWeights
	if values := listParam(req, "weights"); len(values) > 0 {
		parsed := make([]float64, len(values))
		for i, s := range values {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				h.writeError(w, req, fmt.Errorf("%w: weight %q is not a number", telemetry.ErrInvalidInput, s))
				return
			}
			parsed[i] = v
		}
		var err error
		if weights, err = health.ParseWeights(parsed); err != nil {
			h.writeError(w, req, err)
			return
		}
	}

	points, err := health.ForUnit(t, unit, weights, h.settings.HealthSensors)
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	h.respond(w, req, HealthResponse{
		Dataset: name,
		Unit:    unit,
		Sensors: h.settings.HealthSensors,
		Weights: weights,
		Points:  points,
	})
}

// GetWindow handles GET /api/units/{unit}/window
func (h *Handlers) GetWindow(w http.ResponseWriter, req *http.Request) {
	unit, ok := h.unit(w, req)
	if !ok {
		return
	}
	p := h.datasets.Predictor()
	if p == nil {
		h.formatter.WriteError(w, req, http.StatusNotFound, "no_model", "no model is configured")
		return
	}
	snap, err := h.datasets.Snapshot()
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	window, err := predict.LastWindow(snap.TestNormalized, unit, p.SequenceLength, p.Columns)
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	status := predict.StatusOK
	if window == nil {
		status = predict.StatusMissing
	}
	h.respond(w, req, WindowResponse{
		Unit:           unit,
		Status:         status,
		SequenceLength: p.SequenceLength,
		Columns:        p.Columns,
		Window:         window,
	})
}

// GetPredictions handles GET /api/predictions. refresh=true reruns the model.
func (h *Handlers) GetPredictions(w http.ResponseWriter, req *http.Request) {
	if !h.datasets.HasPredictor() {
		h.formatter.WriteError(w, req, http.StatusNotFound, "no_model", "no model is configured")
		return
	}

	if refresh, _ := strconv.ParseBool(req.URL.Query().Get("refresh")); refresh {
		report, err := h.datasets.Predict(req.Context())
		if err != nil {
			h.writeError(w, req, err)
			return
		}
		h.respond(w, req, report)
		return
	}

	snap, err := h.datasets.Snapshot()
	if err != nil {
		h.writeError(w, req, err)
		return
	}
	if snap.Predictions == nil {
		h.formatter.WriteError(w, req, http.StatusServiceUnavailable, "predictions_unavailable", "the last prediction run failed")
		return
	}

	h.respond(w, req, snap.Predictions)
}

// GetMetrics handles GET /metrics
func (h *Handlers) GetMetrics(w http.ResponseWriter, req *http.Request) {
	snap, err := h.datasets.Snapshot()
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	w.Header().Set("Content-Type", metrics.ContentType())
	err = metrics.Write(w, metrics.Snapshot{
		Datasets:    map[string]*telemetry.Table{"train": snap.Train, "test": snap.Test},
		Predictions: snap.Predictions,
	})
	if err != nil {
		h.logger.Errorf("error writing metrics: %v", err)
	}
}

func (h *Handlers) respond(w http.ResponseWriter, req *http.Request, data any) {
	if err := h.formatter.WriteResponse(w, req, data); err != nil {
		h.logger.Errorf("error encoding response for %s: %v", req.URL.Path, err)
	}
}

// writeError maps domain errors onto HTTP statuses.
func (h *Handlers) writeError(w http.ResponseWriter, req *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	msg := err.Error()

	switch {
	case errors.Is(err, telemetry.ErrUnitNotFound):
		status, code = http.StatusNotFound, "unit_not_found"
	case errors.Is(err, telemetry.ErrInvalidInput):
		status, code = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, anomaly.ErrSingularCovariance):
		status, code = http.StatusUnprocessableEntity, "singular_covariance"
		msg = "the selected sensors do not vary independently for this unit; choose a different sensor set (" + err.Error() + ")"
	case errors.Is(err, predict.ErrInvalidModelOutput):
		status, code = http.StatusBadGateway, "invalid_model_output"
	case errors.Is(err, managers.ErrNotLoaded):
		status, code = http.StatusServiceUnavailable, "not_loaded"
	}

	if status == http.StatusInternalServerError {
		h.logger.Errorf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	h.formatter.WriteError(w, req, status, code, msg)
}

func (h *Handlers) unit(w http.ResponseWriter, req *http.Request) (int, bool) {
	s := mux.Vars(req)["unit"]
	unit, err := strconv.Atoi(s)
	if err != nil {
		h.writeError(w, req, fmt.Errorf("%w: unit %q is not an integer", telemetry.ErrInvalidInput, s))
		return 0, false
	}
	return unit, true
}

func (h *Handlers) dataset(w http.ResponseWriter, req *http.Request) (string, *telemetry.Table, bool) {
	snap, err := h.datasets.Snapshot()
	if err != nil {
		h.writeError(w, req, err)
		return "", nil, false
	}
	name := req.URL.Query().Get("dataset")
	t, err := snap.Dataset(name)
	if err != nil {
		h.writeError(w, req, err)
		return "", nil, false
	}
	if name == "" {
		name = "train"
	}
	return name, t, true
}

func (h *Handlers) sensors(req *http.Request) []string {
	if s := listParam(req, "sensors"); len(s) > 0 {
		return s
	}
	return h.settings.AnomalySensors
}

// listParam splits a comma-separated query parameter, dropping empty items.
func listParam(req *http.Request, key string) []string {
	raw := req.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func unitCycles(t *telemetry.Table, unit int) ([]int, error) {
	u, err := t.FilterByUnit(unit)
	if err != nil {
		return nil, err
	}
	cycles := make([]int, u.Len())
	for i, r := range u.Rows {
		cycles[i] = r.Cycle
	}
	return cycles, nil
}
