// Package config loads turbowatch configuration from YAML files or SQLite databases.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Defaults applied by ApplyDefaults when a field is left empty.
const (
	DefaultSequenceLength = 50
	DefaultModelTimeout   = 5 * time.Second
	DefaultHTTPPort       = 8080
	DefaultGRPCHealthPort = 50051
	DefaultAlpha          = 0.01
	DefaultListenAddr     = "0.0.0.0"
)

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Datasets   DatasetsData   `json:"datasets"`
	Columns    []string       `json:"columns,omitempty"`
	Normalize  NormalizeData  `json:"normalize"`
	Anomaly    AnomalyData    `json:"anomaly"`
	Health     HealthData     `json:"health"`
	Predictor  PredictorData  `json:"predictor"`
	Model      ModelData      `json:"model"`
	REST       RESTServerData `json:"rest"`
	GRPCHealth GRPCHealthData `json:"grpc_health"`
}

// DatasetsData names the baseline (train) and observed (test) telemetry sources.
type DatasetsData struct {
	Train DatasetData `json:"train"`
	Test  DatasetData `json:"test"`
}

// DatasetData describes where one telemetry table comes from.
type DatasetData struct {
	// Source is "file" (default) or "postgres".
	Source           string `json:"source,omitempty"`
	Path             string `json:"path,omitempty"`
	ConnectionString string `json:"connection_string,omitempty"`
	Table            string `json:"table,omitempty"`
}

// IsFile reports whether the dataset is read from a local file.
func (d DatasetData) IsFile() bool {
	return d.Source == "" || d.Source == "file"
}

// NormalizeData lists columns left unscaled when the observed table is normalized.
type NormalizeData struct {
	Exclude []string `json:"exclude,omitempty"`
}

type AnomalyData struct {
	Sensors []string `json:"sensors,omitempty"`
	Alpha   float64  `json:"alpha,omitempty"`
}

type HealthData struct {
	Sensors []string  `json:"sensors,omitempty"`
	Weights []float64 `json:"weights,omitempty"`
}

type PredictorData struct {
	SequenceLength int      `json:"sequence_length,omitempty"`
	Columns        []string `json:"columns,omitempty"`
	Parallelism    int      `json:"parallelism,omitempty"`
}

// ModelData points at the model server. An empty endpoint disables predictions.
type ModelData struct {
	Endpoint       string        `json:"endpoint,omitempty"`
	Name           string        `json:"name,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
	ConcurrentSafe bool          `json:"concurrent_safe,omitempty"`
}

type RESTServerData struct {
	Cert       string `json:"cert,omitempty"`
	Key        string `json:"key,omitempty"`
	Port       int    `json:"port,omitempty"`
	ListenAddr string `json:"listen_addr,omitempty"`
}

type GRPCHealthData struct {
	Enabled    bool   `json:"enabled,omitempty"`
	Port       int    `json:"port,omitempty"`
	ListenAddr string `json:"listen_addr,omitempty"`
}

// ApplyDefaults fills unset fields. Columns are left to the caller, which knows the
// dataset convention.
func (c *ConfigData) ApplyDefaults() {
	if c.Anomaly.Alpha == 0 {
		c.Anomaly.Alpha = DefaultAlpha
	}
	if c.Predictor.SequenceLength == 0 {
		c.Predictor.SequenceLength = DefaultSequenceLength
	}
	if c.Predictor.Parallelism == 0 {
		c.Predictor.Parallelism = 1
	}
	if !c.Model.ConcurrentSafe {
		c.Predictor.Parallelism = 1
	}
	if c.Model.Timeout == 0 {
		c.Model.Timeout = DefaultModelTimeout
	}
	if c.REST.Port == 0 {
		c.REST.Port = DefaultHTTPPort
	}
	if c.REST.ListenAddr == "" {
		c.REST.ListenAddr = DefaultListenAddr
	}
	if c.GRPCHealth.Port == 0 {
		c.GRPCHealth.Port = DefaultGRPCHealthPort
	}
	if c.GRPCHealth.ListenAddr == "" {
		c.GRPCHealth.ListenAddr = DefaultListenAddr
	}
}

// Validate reports every configuration problem it finds.
func (c *ConfigData) Validate() error {
	var errs []error

	datasets := []struct {
		name string
		d    DatasetData
	}{{"train", c.Datasets.Train}, {"test", c.Datasets.Test}}

	for _, ds := range datasets {
		name, d := ds.name, ds.d
		switch {
		case d.IsFile():
			if d.Path == "" {
				errs = append(errs, fmt.Errorf("datasets.%s.path must be set", name))
			}
		case d.Source == "postgres":
			if d.ConnectionString == "" || d.Table == "" {
				errs = append(errs, fmt.Errorf("datasets.%s needs connection_string and table for the postgres source", name))
			}
		default:
			errs = append(errs, fmt.Errorf("datasets.%s.source %q is not one of file, postgres", name, d.Source))
		}
	}

	if len(c.Health.Weights) != 0 && len(c.Health.Weights) != 4 {
		errs = append(errs, fmt.Errorf("health.weights needs exactly 4 values, got %d", len(c.Health.Weights)))
	}
	if len(c.Health.Sensors) != 0 && len(c.Health.Sensors) != 4 {
		errs = append(errs, fmt.Errorf("health.sensors needs exactly 4 names, got %d", len(c.Health.Sensors)))
	}
	if c.Predictor.SequenceLength < 0 {
		errs = append(errs, fmt.Errorf("predictor.sequence_length must be positive"))
	}
	if c.Model.Endpoint != "" && c.Model.Name == "" {
		errs = append(errs, fmt.Errorf("model.name must be set when model.endpoint is"))
	}
	if c.Anomaly.Alpha < 0 || c.Anomaly.Alpha >= 1 {
		errs = append(errs, fmt.Errorf("anomaly.alpha must be in (0, 1)"))
	}

	return errors.Join(errs...)
}
