package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/chrissnell/turbowatch/internal/controllers/grpchealth"
	"github.com/chrissnell/turbowatch/internal/controllers/restserver"
	"github.com/chrissnell/turbowatch/internal/database"
	"github.com/chrissnell/turbowatch/internal/log"
	"github.com/chrissnell/turbowatch/internal/managers"
	"github.com/chrissnell/turbowatch/internal/predict"
	"github.com/chrissnell/turbowatch/internal/telemetry"
	"github.com/chrissnell/turbowatch/pkg/config"
	"go.uber.org/zap"
)

// App represents the main application
type App struct {
	config *config.ConfigData
	logger *zap.SugaredLogger
}

// New creates a new application instance
func New(cfg *config.ConfigData, logger *zap.SugaredLogger) *App {
	return &App{
		config: cfg,
		logger: logger,
	}
}

// ColumnMap returns the configured column layout. The first two configured names are
// the unit and cycle identifiers.
func ColumnMap(cfg *config.ConfigData) telemetry.ColumnMap {
	if len(cfg.Columns) < 2 {
		return telemetry.DefaultColumns()
	}
	return telemetry.ColumnMap{
		Names:       cfg.Columns,
		UnitColumn:  cfg.Columns[0],
		CycleColumn: cfg.Columns[1],
	}
}

// NewSource builds the telemetry source for one dataset.
func NewSource(d config.DatasetData, cols telemetry.ColumnMap) (telemetry.Source, error) {
	switch {
	case d.IsFile():
		return telemetry.FileSource{Path: d.Path, Columns: cols}, nil
	case d.Source == "postgres":
		return database.NewPostgresSource(d.ConnectionString, d.Table, cols)
	default:
		return nil, fmt.Errorf("unsupported dataset source %q", d.Source)
	}
}

// NewPredictor returns nil when no model endpoint is configured.
func NewPredictor(cfg *config.ConfigData, logger *zap.SugaredLogger) *predict.Predictor {
	if cfg.Model.Endpoint == "" {
		return nil
	}
	return &predict.Predictor{
		Model:          predict.NewTFServingModel(cfg.Model.Endpoint, cfg.Model.Name, cfg.Model.Timeout),
		SequenceLength: cfg.Predictor.SequenceLength,
		Columns:        cfg.Predictor.Columns,
		Parallelism:    cfg.Predictor.Parallelism,
		Logger:         logger,
	}
}

// NewDatasetManager wires sources and predictor from cfg.
func NewDatasetManager(cfg *config.ConfigData, logger *zap.SugaredLogger) (*managers.DatasetManager, error) {
	cols := ColumnMap(cfg)
	train, err := NewSource(cfg.Datasets.Train, cols)
	if err != nil {
		return nil, fmt.Errorf("train dataset: %w", err)
	}
	test, err := NewSource(cfg.Datasets.Test, cols)
	if err != nil {
		return nil, fmt.Errorf("test dataset: %w", err)
	}
	return managers.NewDatasetManager(train, test, cfg.Normalize.Exclude, NewPredictor(cfg, logger), logger), nil
}

// watchedPaths lists the dataset files to watch for changes.
func watchedPaths(cfg *config.ConfigData) []string {
	var paths []string
	for _, d := range []config.DatasetData{cfg.Datasets.Train, cfg.Datasets.Test} {
		if d.IsFile() && d.Path != "" {
			paths = append(paths, d.Path)
		}
	}
	return paths
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	datasets, err := NewDatasetManager(a.config, a.logger)
	if err != nil {
		return err
	}

	var healthCtrl *grpchealth.Controller
	if a.config.GRPCHealth.Enabled {
		healthCtrl = grpchealth.NewController(ctx, &wg, a.config.GRPCHealth, a.logger)
	}
	reload := func() {
		err := datasets.Reload(ctx)
		if err != nil {
			a.logger.Errorf("dataset reload failed, keeping previous data: %v", err)
		}
		if healthCtrl != nil {
			healthCtrl.SetServing(err == nil)
		}
	}

	// The first load must succeed; later failures keep the last good snapshot.
	if err := datasets.Reload(ctx); err != nil {
		return err
	}
	if healthCtrl != nil {
		healthCtrl.SetServing(true)
	}

	factories := []managers.ControllerFactory{
		func() (managers.Controller, error) {
			return restserver.NewController(ctx, &wg, a.config, datasets, a.logger)
		},
	}
	if healthCtrl != nil {
		factories = append(factories, func() (managers.Controller, error) { return healthCtrl, nil })
	}
	cm, err := managers.NewControllerManager(a.logger, factories...)
	if err != nil {
		return err
	}
	if err := cm.StartControllers(); err != nil {
		return err
	}

	if paths := watchedPaths(a.config); len(paths) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := config.Watch(ctx, paths, a.logger, func(path string) {
				a.logger.Infof("%s changed, reloading datasets", path)
				reload()
			})
			if err != nil {
				a.logger.Errorf("dataset watcher stopped: %v", err)
			}
		}()
	}

	log.Info("Application started successfully")

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	log.Info("shutdown complete")

	return nil
}
