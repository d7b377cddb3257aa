// Package grpchealth serves the standard gRPC health checking protocol so orchestrators
// can tell whether turbowatch has datasets loaded.
package grpchealth

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/chrissnell/turbowatch/pkg/config"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "turbowatch"

// Controller represents the gRPC health controller
type Controller struct {
	ctx    context.Context
	wg     *sync.WaitGroup
	cfg    config.GRPCHealthData
	Server *grpc.Server
	health *health.Server
	logger *zap.SugaredLogger
}

// NewController creates a health controller. Both services start as NOT_SERVING.
func NewController(ctx context.Context, wg *sync.WaitGroup, cfg config.GRPCHealthData, logger *zap.SugaredLogger) *Controller {
	c := &Controller{
		ctx:    ctx,
		wg:     wg,
		cfg:    cfg,
		Server: grpc.NewServer(),
		health: health.NewServer(),
		logger: logger,
	}
	c.SetServing(false)

	healthpb.RegisterHealthServer(c.Server, c.health)
	reflection.Register(c.Server)
	return c
}

// SetServing flips the reported status.
func (c *Controller) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	c.health.SetServingStatus("", status)
	c.health.SetServingStatus(ServiceName, status)
}

// StartController listens on the configured address until the context is cancelled.
func (c *Controller) StartController() error {
	listenAddr := fmt.Sprintf("%s:%d", c.cfg.ListenAddr, c.cfg.Port)
	l, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("gRPC health controller could not create listener: %v", err)
	}
	return c.Serve(l)
}

// Serve runs the server on l in the background.
func (c *Controller) Serve(l net.Listener) error {
	c.logger.Infof("gRPC health controller listening on %s", l.Addr())
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		if err := c.Server.Serve(l); err != nil {
			c.logger.Errorf("gRPC health controller serve error: %v", err)
		}
	}()

	go func() {
		<-c.ctx.Done()
		c.logger.Info("Stopping gRPC health controller...")
		c.health.Shutdown()
		c.Server.GracefulStop()
	}()

	return nil
}
