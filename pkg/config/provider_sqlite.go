package config

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Schema creates the tables SQLiteProvider reads. List-valued settings are stored as
// comma-separated text.
const Schema = `
CREATE TABLE IF NOT EXISTS configs (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	name                    TEXT NOT NULL UNIQUE,
	columns                 TEXT,
	normalize_exclude       TEXT,
	anomaly_sensors         TEXT,
	anomaly_alpha           REAL,
	health_sensors          TEXT,
	health_weights          TEXT,
	sequence_length         INTEGER,
	predictor_columns       TEXT,
	parallelism             INTEGER,
	model_endpoint          TEXT,
	model_name              TEXT,
	model_timeout_ms        INTEGER,
	model_concurrent_safe   INTEGER NOT NULL DEFAULT 0,
	rest_cert               TEXT,
	rest_key                TEXT,
	rest_port               INTEGER,
	rest_listen_addr        TEXT,
	grpc_health_enabled     INTEGER NOT NULL DEFAULT 0,
	grpc_health_port        INTEGER,
	grpc_health_listen_addr TEXT
);

CREATE TABLE IF NOT EXISTS datasets (
	config_id         INTEGER NOT NULL REFERENCES configs(id) ON DELETE CASCADE,
	role              TEXT NOT NULL CHECK (role IN ('train', 'test')),
	source            TEXT NOT NULL DEFAULT 'file',
	path              TEXT,
	connection_string TEXT,
	table_name        TEXT,
	PRIMARY KEY (config_id, role)
);
`

// SQLiteProvider implements ConfigProvider for SQLite database configuration
type SQLiteProvider struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteProvider creates a new SQLite configuration provider
func NewSQLiteProvider(dbPath string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	return &SQLiteProvider{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// InitSchema creates the configuration tables if they do not exist yet.
func (s *SQLiteProvider) InitSchema() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create configuration schema: %w", err)
	}
	return nil
}

// LoadConfig loads the configuration named "default" from SQLite database
func (s *SQLiteProvider) LoadConfig() (*ConfigData, error) {
	query := `
		SELECT id, columns, normalize_exclude, anomaly_sensors, anomaly_alpha,
		       health_sensors, health_weights, sequence_length, predictor_columns, parallelism,
		       model_endpoint, model_name, model_timeout_ms, model_concurrent_safe,
		       rest_cert, rest_key, rest_port, rest_listen_addr,
		       grpc_health_enabled, grpc_health_port, grpc_health_listen_addr
		FROM configs
		WHERE name = 'default'
	`

	var (
		id                                                int64
		columns, exclude, anomalySensors                  sql.NullString
		healthSensors, healthWeights, predictorColumns    sql.NullString
		modelEndpoint, modelName                          sql.NullString
		restCert, restKey, restListenAddr, grpcListenAddr sql.NullString
		alpha                                             sql.NullFloat64
		sequenceLength, parallelism, timeoutMS            sql.NullInt64
		restPort, grpcPort                                sql.NullInt64
		concurrentSafe, grpcEnabled                       bool
	)

	err := s.db.QueryRow(query).Scan(
		&id, &columns, &exclude, &anomalySensors, &alpha,
		&healthSensors, &healthWeights, &sequenceLength, &predictorColumns, &parallelism,
		&modelEndpoint, &modelName, &timeoutMS, &concurrentSafe,
		&restCert, &restKey, &restPort, &restListenAddr,
		&grpcEnabled, &grpcPort, &grpcListenAddr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no configuration named 'default' in %s", s.dbPath)
		}
		return nil, fmt.Errorf("failed to query configuration: %w", err)
	}

	weights, err := parseFloatList(healthWeights.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse health_weights: %w", err)
	}

	cfg := &ConfigData{
		Columns:   splitList(columns.String),
		Normalize: NormalizeData{Exclude: splitList(exclude.String)},
		Anomaly:   AnomalyData{Sensors: splitList(anomalySensors.String), Alpha: alpha.Float64},
		Health:    HealthData{Sensors: splitList(healthSensors.String), Weights: weights},
		Predictor: PredictorData{
			SequenceLength: int(sequenceLength.Int64),
			Columns:        splitList(predictorColumns.String),
			Parallelism:    int(parallelism.Int64),
		},
		Model: ModelData{
			Endpoint:       modelEndpoint.String,
			Name:           modelName.String,
			Timeout:        time.Duration(timeoutMS.Int64) * time.Millisecond,
			ConcurrentSafe: concurrentSafe,
		},
		REST: RESTServerData{
			Cert:       restCert.String,
			Key:        restKey.String,
			Port:       int(restPort.Int64),
			ListenAddr: restListenAddr.String,
		},
		GRPCHealth: GRPCHealthData{
			Enabled:    grpcEnabled,
			Port:       int(grpcPort.Int64),
			ListenAddr: grpcListenAddr.String,
		},
	}

	if err := s.loadDatasets(id, cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

func (s *SQLiteProvider) loadDatasets(configID int64, cfg *ConfigData) error {
	rows, err := s.db.Query(`
		SELECT role, source, path, connection_string, table_name
		FROM datasets
		WHERE config_id = ?
	`, configID)
	if err != nil {
		return fmt.Errorf("failed to query datasets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role, source string
		var path, connStr, table sql.NullString
		if err := rows.Scan(&role, &source, &path, &connStr, &table); err != nil {
			return fmt.Errorf("failed to scan dataset row: %w", err)
		}

		d := DatasetData{
			Source:           source,
			Path:             path.String,
			ConnectionString: connStr.String,
			Table:            table.String,
		}
		switch role {
		case "train":
			cfg.Datasets.Train = d
		case "test":
			cfg.Datasets.Test = d
		}
	}
	return rows.Err()
}

// SaveConfig writes cfg as the "default" configuration, replacing any previous one.
func (s *SQLiteProvider) SaveConfig(cfg *ConfigData) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM datasets WHERE config_id IN (SELECT id FROM configs WHERE name = 'default')`); err != nil {
		return fmt.Errorf("failed to clear datasets: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM configs WHERE name = 'default'`); err != nil {
		return fmt.Errorf("failed to clear configuration: %w", err)
	}

	res, err := tx.Exec(`
		INSERT INTO configs (
			name, columns, normalize_exclude, anomaly_sensors, anomaly_alpha,
			health_sensors, health_weights, sequence_length, predictor_columns, parallelism,
			model_endpoint, model_name, model_timeout_ms, model_concurrent_safe,
			rest_cert, rest_key, rest_port, rest_listen_addr,
			grpc_health_enabled, grpc_health_port, grpc_health_listen_addr
		) VALUES ('default', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		joinList(cfg.Columns), joinList(cfg.Normalize.Exclude), joinList(cfg.Anomaly.Sensors), cfg.Anomaly.Alpha,
		joinList(cfg.Health.Sensors), formatFloatList(cfg.Health.Weights), cfg.Predictor.SequenceLength,
		joinList(cfg.Predictor.Columns), cfg.Predictor.Parallelism,
		cfg.Model.Endpoint, cfg.Model.Name, cfg.Model.Timeout.Milliseconds(), cfg.Model.ConcurrentSafe,
		cfg.REST.Cert, cfg.REST.Key, cfg.REST.Port, cfg.REST.ListenAddr,
		cfg.GRPCHealth.Enabled, cfg.GRPCHealth.Port, cfg.GRPCHealth.ListenAddr,
	)
	if err != nil {
		return fmt.Errorf("failed to insert configuration: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for role, d := range map[string]DatasetData{"train": cfg.Datasets.Train, "test": cfg.Datasets.Test} {
		source := d.Source
		if source == "" {
			source = "file"
		}
		_, err := tx.Exec(`
			INSERT INTO datasets (config_id, role, source, path, connection_string, table_name)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, role, source, d.Path, d.ConnectionString, d.Table)
		if err != nil {
			return fmt.Errorf("failed to insert %s dataset: %w", role, err)
		}
	}

	return tx.Commit()
}

// IsReadOnly returns false; SaveConfig can write to the database.
func (s *SQLiteProvider) IsReadOnly() bool {
	return false
}

// Close closes the database connection
func (s *SQLiteProvider) Close() error {
	return s.db.Close()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinList(items []string) string {
	return strings.Join(items, ",")
}

func parseFloatList(s string) ([]float64, error) {
	var out []float64
	for _, part := range splitList(s) {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func formatFloatList(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return joinList(parts)
}
