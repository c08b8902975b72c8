package di

import (
	"context"
	"net/http"

	"github.com/google/wire"
	"go.uber.org/zap"

	"canvaschat/application/ports"
	"canvaschat/application/services"
	"canvaschat/infrastructure/config"
	messaging "canvaschat/infrastructure/messaging/memory"
	"canvaschat/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    ports.SessionStore
	Bus      *messaging.EventBus
	Metrics  *observability.Collector
	Tracer   *observability.TracerProvider
	Sessions *services.SessionManager
	Handler  http.Handler
}

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideSessionStore,
	ProvideCompletionClient,
	ProvideEventBus,
	ProvideMetrics,
	ProvideTracer,
	ProvideSessionManager,
	ProvideReadinessChecks,
	ProvideHTTPHandler,
	wire.Struct(new(Container), "*"),
)

// Shutdown stops the live sessions, then the bus, then flushes traces.
func (c *Container) Shutdown(ctx context.Context) error {
	var first error
	if err := c.Sessions.Close(ctx); err != nil {
		c.Logger.Error("Failed to close sessions", zap.Error(err))
		first = err
	}
	c.Bus.Close()
	if err := c.Tracer.Shutdown(ctx); err != nil {
		c.Logger.Error("Failed to flush traces", zap.Error(err))
		if first == nil {
			first = err
		}
	}
	return first
}
