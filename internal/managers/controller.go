package managers

import (
	"fmt"

	"go.uber.org/zap"
)

// ControllerManager interface for the controller manager
type ControllerManager interface {
	StartControllers() error
}

// Controller is an interface that provides standard methods for various controller backends
type Controller interface {
	StartController() error
}

// ControllerFactory builds one controller. Factories run in order and the first error
// aborts construction.
type ControllerFactory func() (Controller, error)

// NewControllerManager creates a new controller manager
func NewControllerManager(logger *zap.SugaredLogger, factories ...ControllerFactory) (ControllerManager, error) {
	cm := &controllerManager{
		logger:      logger,
		controllers: make([]Controller, 0, len(factories)),
	}

	for _, f := range factories {
		controller, err := f()
		if err != nil {
			return nil, fmt.Errorf("error creating controller: %v", err)
		}
		if controller != nil {
			cm.controllers = append(cm.controllers, controller)
		}
	}

	return cm, nil
}

type controllerManager struct {
	logger      *zap.SugaredLogger
	controllers []Controller
}

func (c *controllerManager) StartControllers() error {
	c.logger.Info("Starting controller manager...")

	for _, controller := range c.controllers {
		err := controller.StartController()
		if err != nil {
			return fmt.Errorf("error starting controller: %v", err)
		}
	}

	c.logger.Infof("Started %d controllers successfully", len(c.controllers))
	return nil
}
