package restserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chrissnell/turbowatch/internal/health"
	"github.com/chrissnell/turbowatch/internal/managers"
	"github.com/chrissnell/turbowatch/pkg/config"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Controller represents the REST server controller
type Controller struct {
	ctx        context.Context
	wg         *sync.WaitGroup
	restConfig config.RESTServerData
	Server     http.Server
	datasets   *managers.DatasetManager
	logger     *zap.SugaredLogger
	handlers   *Handlers
}

// Settings are the analysis defaults handlers fall back to when a request leaves a
// parameter out.
type Settings struct {
	AnomalySensors []string
	Alpha          float64
	HealthSensors  health.Sensors
	HealthWeights  health.Weights
}

// SettingsFromConfig derives handler defaults from the loaded configuration.
func SettingsFromConfig(cfg *config.ConfigData) (Settings, error) {
	s := Settings{
		AnomalySensors: cfg.Anomaly.Sensors,
		Alpha:          cfg.Anomaly.Alpha,
		HealthSensors:  health.DefaultSensors,
		HealthWeights:  health.DefaultWeights(),
	}
	if len(s.AnomalySensors) == 0 {
		s.AnomalySensors = health.DefaultSensors[:]
	}
	if len(cfg.Health.Sensors) > 0 {
		sensors, err := health.ParseSensors(cfg.Health.Sensors)
		if err != nil {
			return s, err
		}
		s.HealthSensors = sensors
	}
	if len(cfg.Health.Weights) > 0 {
		w, err := health.ParseWeights(cfg.Health.Weights)
		if err != nil {
			return s, err
		}
		s.HealthWeights = w
	}
	return s, nil
}

// NewController creates a new REST server controller
func NewController(ctx context.Context, wg *sync.WaitGroup, cfg *config.ConfigData, datasets *managers.DatasetManager, logger *zap.SugaredLogger) (*Controller, error) {
	settings, err := SettingsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid analysis settings: %v", err)
	}

	rc := cfg.REST
	if rc.ListenAddr == "" {
		logger.Info("rest.listen_addr not provided; defaulting to 0.0.0.0 (all interfaces)")
		rc.ListenAddr = config.DefaultListenAddr
	}
	if rc.Port == 0 {
		logger.Infof("rest.port not provided; defaulting to %d", config.DefaultHTTPPort)
		rc.Port = config.DefaultHTTPPort
	}

	ctrl := &Controller{
		ctx:        ctx,
		wg:         wg,
		restConfig: rc,
		datasets:   datasets,
		logger:     logger,
	}
	ctrl.handlers = NewHandlers(datasets, settings, logger)

	ctrl.Server.Addr = fmt.Sprintf("%v:%v", rc.ListenAddr, rc.Port)
	ctrl.Server.Handler = ctrl.handlers.Router()
	ctrl.Server.ReadHeaderTimeout = 10 * time.Second

	return ctrl, nil
}

// StartController starts the REST server
func (c *Controller) StartController() error {
	c.logger.Infof("Starting REST server on %s...", c.Server.Addr)
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		var err error
		if c.restConfig.Cert != "" && c.restConfig.Key != "" {
			err = c.Server.ListenAndServeTLS(c.restConfig.Cert, c.restConfig.Key)
		} else {
			err = c.Server.ListenAndServe()
		}
		if err != http.ErrServerClosed {
			c.logger.Errorf("REST server error: %v", err)
		}
	}()

	go func() {
		<-c.ctx.Done()
		c.logger.Info("Shutting down the REST server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Server.Shutdown(shutdownCtx)
	}()

	return nil
}

// Router configures the HTTP router with all endpoints
func (h *Handlers) Router() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", h.GetStatus).Methods(http.MethodGet)
	api.HandleFunc("/units", h.GetUnits).Methods(http.MethodGet)
	api.HandleFunc("/units/{unit:[0-9]+}/sensors", h.GetSensors).Methods(http.MethodGet)
	api.HandleFunc("/units/{unit:[0-9]+}/sensors/{sensor}", h.GetSensor).Methods(http.MethodGet)
	api.HandleFunc("/units/{unit:[0-9]+}/tsquare", h.GetTSquare).Methods(http.MethodGet)
	api.HandleFunc("/units/{unit:[0-9]+}/tsquare/compare", h.GetTSquareComparison).Methods(http.MethodGet)
	api.HandleFunc("/units/{unit:[0-9]+}/health", h.GetHealthIndex).Methods(http.MethodGet)
	api.HandleFunc("/units/{unit:[0-9]+}/window", h.GetWindow).Methods(http.MethodGet)
	api.HandleFunc("/predictions", h.GetPredictions).Methods(http.MethodGet)

	router.HandleFunc("/metrics", h.GetMetrics).Methods(http.MethodGet)

	return router
}
