// Package database reads telemetry tables from PostgreSQL / TimescaleDB through GORM.
package database

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/chrissnell/turbowatch/internal/log"
	"github.com/chrissnell/turbowatch/internal/telemetry"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// CreateConnection is a helper function to create a database connection with standard GORM configuration
func CreateConnection(connectionString string) (*gorm.DB, error) {
	// Create a logger for gorm
	dbLogger := logger.New(
		zap.NewStdLog(log.GetZapLogger()),
		logger.Config{
			SlowThreshold:             time.Second, // Slow SQL threshold
			LogLevel:                  logger.Warn, // Log level
			IgnoreRecordNotFoundError: true,        // Ignore ErrRecordNotFound error for logger
			Colorful:                  false,
		},
	)

	log.Info("connecting to telemetry database...")
	db, err := gorm.Open(postgres.Open(connectionString), &gorm.Config{Logger: dbLogger})
	if err != nil {
		log.Warnf("warning: unable to create a telemetry database connection: %v", err)
		return nil, err
	}

	return db, nil
}

// PostgresSource loads a telemetry table stored one row per unit and cycle, with one
// database column per name in Columns.
type PostgresSource struct {
	DB      *gorm.DB
	Table   string
	Columns telemetry.ColumnMap
}

// NewPostgresSource connects to connectionString and reads from table.
func NewPostgresSource(connectionString, table string, cols telemetry.ColumnMap) (*PostgresSource, error) {
	if err := cols.Validate(); err != nil {
		return nil, err
	}
	db, err := CreateConnection(connectionString)
	if err != nil {
		return nil, fmt.Errorf("could not connect to telemetry database: %w", err)
	}
	return &PostgresSource{DB: db, Table: table, Columns: cols}, nil
}

// Load fetches every row ordered by unit and cycle, so per-unit table order always
// matches chronological order.
func (s *PostgresSource) Load(ctx context.Context) (*telemetry.Table, error) {
	var records []map[string]interface{}

	err := s.DB.WithContext(ctx).
		Table(s.Table).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: s.Columns.UnitColumn}},
			{Column: clause.Column{Name: s.Columns.CycleColumn}},
		}}).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("error querying telemetry table %s: %w", s.Table, err)
	}

	return TableFromRecords(records, s.Columns)
}

// TableFromRecords converts generic column→value records into a telemetry table.
func TableFromRecords(records []map[string]interface{}, cols telemetry.ColumnMap) (*telemetry.Table, error) {
	if err := cols.Validate(); err != nil {
		return nil, err
	}

	var numeric []string
	for _, n := range cols.Names {
		if n != cols.UnitColumn && n != cols.CycleColumn {
			numeric = append(numeric, n)
		}
	}

	rows := make([]telemetry.Row, len(records))
	for i, rec := range records {
		unit, err := identifier(rec, cols.UnitColumn)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		cycle, err := identifier(rec, cols.CycleColumn)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}

		row := telemetry.Row{Unit: unit, Cycle: cycle, Values: make([]float64, len(numeric))}
		for j, name := range numeric {
			if row.Values[j], err = field(rec, name); err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
		}
		rows[i] = row
	}

	return telemetry.NewTable(cols.UnitColumn, cols.CycleColumn, numeric, rows)
}

// identifier reads a unit or cycle value, which must be a whole number.
func identifier(rec map[string]interface{}, name string) (int, error) {
	f, err := field(rec, name)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("%w: column %q: %v is not an integer", telemetry.ErrInvalidInput, name, f)
	}
	return int(f), nil
}

func field(rec map[string]interface{}, name string) (float64, error) {
	v, ok := rec[name]
	if !ok {
		return 0, fmt.Errorf("%w: column %q missing from database row", telemetry.ErrInvalidInput, name)
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, fmt.Errorf("%w: column %q: %v", telemetry.ErrInvalidInput, name, err)
	}
	return f, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int:
		return float64(n), nil
	case []byte:
		return strconv.ParseFloat(string(n), 64)
	case string:
		return strconv.ParseFloat(n, 64)
	case fmt.Stringer:
		return strconv.ParseFloat(n.String(), 64)
	case nil:
		return 0, fmt.Errorf("NULL value")
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
