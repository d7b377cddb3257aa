package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

type datasetYAML struct {
	Source           string `yaml:"source"`
	Path             string `yaml:"path"`
	ConnectionString string `yaml:"connection_string"`
	Table            string `yaml:"table"`
}

type configYAML struct {
	Datasets struct {
		Train datasetYAML `yaml:"train"`
		Test  datasetYAML `yaml:"test"`
	} `yaml:"datasets"`
	Columns   []string `yaml:"columns"`
	Normalize struct {
		Exclude []string `yaml:"exclude"`
	} `yaml:"normalize"`
	Anomaly struct {
		Sensors []string `yaml:"sensors"`
		Alpha   float64  `yaml:"alpha"`
	} `yaml:"anomaly"`
	Health struct {
		Sensors []string  `yaml:"sensors"`
		Weights []float64 `yaml:"weights"`
	} `yaml:"health"`
	Predictor struct {
		SequenceLength int      `yaml:"sequence_length"`
		Columns        []string `yaml:"columns"`
		Parallelism    int      `yaml:"parallelism"`
	} `yaml:"predictor"`
	Model struct {
		Endpoint       string        `yaml:"endpoint"`
		Name           string        `yaml:"name"`
		Timeout        time.Duration `yaml:"timeout"`
		ConcurrentSafe bool          `yaml:"concurrent_safe"`
	} `yaml:"model"`
	REST struct {
		Cert       string `yaml:"cert"`
		Key        string `yaml:"key"`
		Port       int    `yaml:"port"`
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"rest"`
	GRPCHealth struct {
		Enabled    bool   `yaml:"enabled"`
		Port       int    `yaml:"port"`
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"grpc_health"`
}

// LoadConfig loads the complete configuration from YAML file
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}
	return ParseYAML(cfgFile)
}

// ParseYAML decodes a YAML document and applies defaults. It does not validate.
func ParseYAML(data []byte) (*ConfigData, error) {
	var yc configYAML
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return nil, err
	}

	cfg := &ConfigData{
		Datasets: DatasetsData{
			Train: DatasetData(yc.Datasets.Train),
			Test:  DatasetData(yc.Datasets.Test),
		},
		Columns:   yc.Columns,
		Normalize: NormalizeData{Exclude: yc.Normalize.Exclude},
		Anomaly:   AnomalyData{Sensors: yc.Anomaly.Sensors, Alpha: yc.Anomaly.Alpha},
		Health:    HealthData{Sensors: yc.Health.Sensors, Weights: yc.Health.Weights},
		Predictor: PredictorData{
			SequenceLength: yc.Predictor.SequenceLength,
			Columns:        yc.Predictor.Columns,
			Parallelism:    yc.Predictor.Parallelism,
		},
		Model: ModelData{
			Endpoint:       yc.Model.Endpoint,
			Name:           yc.Model.Name,
			Timeout:        yc.Model.Timeout,
			ConcurrentSafe: yc.Model.ConcurrentSafe,
		},
		REST: RESTServerData{
			Cert:       yc.REST.Cert,
			Key:        yc.REST.Key,
			Port:       yc.REST.Port,
			ListenAddr: yc.REST.ListenAddr,
		},
		GRPCHealth: GRPCHealthData{
			Enabled:    yc.GRPCHealth.Enabled,
			Port:       yc.GRPCHealth.Port,
			ListenAddr: yc.GRPCHealth.ListenAddr,
		},
	}
	cfg.ApplyDefaults()

	return cfg, nil
}

// IsReadOnly returns true for YAML provider (read-only)
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML provider
func (y *YAMLProvider) Close() error {
	return nil
}
