package di

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"canvaschat/application/ports"
	"canvaschat/application/services"
	"canvaschat/infrastructure/config"
	"canvaschat/infrastructure/llm"
	messaging "canvaschat/infrastructure/messaging/memory"
	"canvaschat/infrastructure/persistence/dynamodb"
	"canvaschat/infrastructure/persistence/memory"
	"canvaschat/interfaces/http/rest"
	"canvaschat/pkg/observability"
)

// eventBuffer is the per-subscriber channel size of the event bus.
const eventBuffer = 256

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.IsProduction() {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("environment", string(cfg.Environment))), nil
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Sessions.Region),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client, pointed at
// sessions.endpoint when one is configured.
func ProvideDynamoDBClient(awsCfg aws.Config, cfg *config.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		if cfg.Sessions.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Sessions.Endpoint)
		}
	})
}

// ProvideSessionStore picks the snapshot store named by sessions.backend.
func ProvideSessionStore(cfg *config.Config, client *awsdynamodb.Client, logger *zap.Logger) ports.SessionStore {
	if cfg.Sessions.Backend == config.BackendDynamoDB {
		logger.Info("Using DynamoDB session store",
			zap.String("table", cfg.Sessions.TableName),
			zap.String("region", cfg.Sessions.Region),
		)
		return dynamodb.NewSessionStore(client, cfg.Sessions.TableName, cfg.Domain.SessionTTL, logger)
	}
	logger.Info("Using in-memory session store")
	return memory.NewSessionStore(cfg.Domain.SessionTTL, logger)
}

// ProvideCompletionClient creates the OpenAI-compatible client behind a
// circuit breaker.
func ProvideCompletionClient(cfg *config.Config, logger *zap.Logger) ports.CompletionClient {
	client := llm.NewOpenAIClient(llm.OpenAIOptions{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		MaxTokens:      cfg.LLM.MaxTokens,
		Temperature:    cfg.LLM.Temperature,
		RequestTimeout: cfg.LLM.RequestTimeout,
	}, logger)
	return llm.NewBreakerClient(client, llm.BreakerOptions{
		MaxRequests:      cfg.LLM.Breaker.MaxRequests,
		Interval:         cfg.LLM.Breaker.Interval,
		OpenTimeout:      cfg.LLM.Breaker.OpenTimeout,
		FailureThreshold: cfg.LLM.Breaker.FailureThreshold,
	}, logger)
}

// ProvideEventBus creates the in-process event bus
func ProvideEventBus(logger *zap.Logger) *messaging.EventBus {
	return messaging.NewEventBus(eventBuffer, logger)
}

// ProvideMetrics creates the metrics collector. It is always built so the
// services can record into it; features.enable_metrics only controls
// whether /metrics is served.
func ProvideMetrics() *observability.Collector {
	return observability.NewCollector("canvaschat")
}

// ProvideTracer installs the global tracer provider.
func ProvideTracer(ctx context.Context, cfg *config.Config) (*observability.TracerProvider, error) {
	return observability.InitTracing(ctx, observability.TracingOptions{
		Enabled:     cfg.Features.EnableTracing,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: string(cfg.Environment),
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
}

// ProvideSessionManager creates the owner of all live sessions.
func ProvideSessionManager(
	cfg *config.Config,
	client ports.CompletionClient,
	bus *messaging.EventBus,
	store ports.SessionStore,
	metrics *observability.Collector,
	logger *zap.Logger,
) *services.SessionManager {
	return services.NewSessionManager(services.ManagerOptions{
		Config:        cfg.Domain,
		Client:        client,
		Bus:           bus,
		Store:         store,
		Metrics:       metrics,
		Recorder:      metrics,
		MaxConcurrent: cfg.LLM.MaxConcurrent,
		DefaultModel:  cfg.LLM.DefaultModel,
		Logger:        logger,
	})
}

// ProvideReadinessChecks returns the checks behind /ready. The in-memory
// store is always ready.
func ProvideReadinessChecks(cfg *config.Config, client *awsdynamodb.Client) map[string]rest.ReadinessCheck {
	checks := make(map[string]rest.ReadinessCheck)
	if cfg.Sessions.Backend == config.BackendDynamoDB {
		table := cfg.Sessions.TableName
		checks["dynamodb"] = func(ctx context.Context) error {
			_, err := client.DescribeTable(ctx, &awsdynamodb.DescribeTableInput{TableName: aws.String(table)})
			return err
		}
	}
	return checks
}

// ProvideHTTPHandler builds the router with its middleware chain.
func ProvideHTTPHandler(
	cfg *config.Config,
	manager *services.SessionManager,
	bus *messaging.EventBus,
	metrics *observability.Collector,
	ready map[string]rest.ReadinessCheck,
	logger *zap.Logger,
) http.Handler {
	opts := rest.RouterOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		CORSMaxAge:     cfg.CORS.MaxAge,
		MaxBodyBytes:   cfg.Server.MaxRequestBytes,
		Debug:          cfg.IsDevelopment(),
		ServiceName:    cfg.Tracing.ServiceName,
		Tracing:        cfg.Features.EnableTracing,
		Ready:          ready,
	}
	if cfg.Features.EnableMetrics {
		opts.Metrics = metrics
	}
	return rest.NewRouter(manager, bus, opts, logger).Setup()
}
