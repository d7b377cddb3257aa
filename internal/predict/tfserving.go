package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TFServingModel calls a model hosted behind a TensorFlow Serving compatible REST API.
type TFServingModel struct {
	Endpoint string // base URL, e.g. http://localhost:8501
	Name     string
	Client   *http.Client
}

// NewTFServingModel creates a client with the given request timeout.
func NewTFServingModel(endpoint, name string, timeout time.Duration) *TFServingModel {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &TFServingModel{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Name:     name,
		Client:   &http.Client{Timeout: timeout},
	}
}

type tfPredictRequest struct {
	Instances [][][]float64 `json:"instances"`
}

type tfPredictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
	Error       string            `json:"error"`
}

// URL returns the predict endpoint of the model.
func (m *TFServingModel) URL() string {
	return fmt.Sprintf("%s/v1/models/%s:predict", m.Endpoint, m.Name)
}

// Predict posts the batch as instances and decodes one vector per instance. Scalar
// predictions are returned as single-element vectors.
func (m *TFServingModel) Predict(ctx context.Context, batch [][][]float64) ([][]float64, error) {
	body, err := json.Marshal(tfPredictRequest{Instances: batch})
	if err != nil {
		return nil, fmt.Errorf("error encoding predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error calling model server: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("error reading model response: %w", err)
	}

	var decoded tfPredictResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("%w: undecodable response (HTTP %d): %v", ErrInvalidModelOutput, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model server returned HTTP %d: %s", resp.StatusCode, decoded.Error)
	}
	if len(decoded.Predictions) != len(batch) {
		return nil, fmt.Errorf("%w: %d predictions for %d instances", ErrInvalidModelOutput, len(decoded.Predictions), len(batch))
	}

	out := make([][]float64, len(decoded.Predictions))
	for i, raw := range decoded.Predictions {
		var scalar float64
		if err := json.Unmarshal(raw, &scalar); err == nil {
			out[i] = []float64{scalar}
			continue
		}
		var vec []float64
		if err := json.Unmarshal(raw, &vec); err != nil {
			return nil, fmt.Errorf("%w: prediction %d is neither a number nor a vector", ErrInvalidModelOutput, i)
		}
		out[i] = vec
	}
	return out, nil
}
