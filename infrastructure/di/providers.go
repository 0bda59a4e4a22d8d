// Package di wires the application's dependency graph. Providers are
// plain constructors shared by the wire spec and the manual container
// assembly used at startup.
package di

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"

	"flowdeck-backend/application/ports"
	"flowdeck-backend/application/services"
	"flowdeck-backend/infrastructure/config"
	dynamostore "flowdeck-backend/infrastructure/persistence/dynamodb"
	"flowdeck-backend/infrastructure/persistence/memory"
	"flowdeck-backend/interfaces/http/rest"
	"flowdeck-backend/interfaces/websocket"
	"flowdeck-backend/pkg/auth"
	"flowdeck-backend/pkg/observability"

	eventbridgepub "flowdeck-backend/infrastructure/messaging/eventbridge"
)

// ProvideLogger builds the application logger from the configured level
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err == nil {
		zapCfg.Level = level
	}
	return zapCfg.Build()
}

// ProvideMetrics creates the Prometheus collector
func ProvideMetrics(cfg *config.Config) *observability.Collector {
	if !cfg.EnableMetrics {
		return nil
	}
	return observability.NewCollector("flowdeck")
}

// ProvideJWTValidator creates the token validator
func ProvideJWTValidator(cfg *config.Config) (*auth.JWTValidator, error) {
	secret := cfg.JWTSecret
	if secret == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("JWT secret is required")
		}
		secret = "dev-secret-do-not-use-in-production"
	}
	return auth.NewJWTValidator(secret, cfg.JWTIssuer)
}

// ProvideDynamoDBClient creates a DynamoDB client for the configured region
func ProvideDynamoDBClient(ctx context.Context, cfg *config.Config) (*awsdynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsdynamodb.NewFromConfig(awsCfg), nil
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(ctx context.Context, cfg *config.Config) (*awseventbridge.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awseventbridge.NewFromConfig(awsCfg), nil
}

// ProvideOperationArchive selects the archive backing. Memory persistence
// runs without an archive.
func ProvideOperationArchive(cfg *config.Config, client *awsdynamodb.Client, logger *zap.Logger) ports.OperationArchive {
	if cfg.Persistence != "dynamodb" {
		return nil
	}
	return dynamostore.NewOperationArchive(client, cfg.TableName, logger)
}

// ProvideGraphStore selects the snapshot store backing
func ProvideGraphStore(cfg *config.Config, client *awsdynamodb.Client, logger *zap.Logger) ports.GraphStore {
	if cfg.Persistence == "dynamodb" {
		return dynamostore.NewGraphStore(client, cfg.TableName, logger)
	}
	return memory.NewGraphStore()
}

// ProvideEventBus creates the outbound event publisher; nil when no event
// bus is configured
func ProvideEventBus(cfg *config.Config, client *awseventbridge.Client, logger *zap.Logger) ports.EventBus {
	if cfg.EventBusName == "" {
		return nil
	}
	return eventbridgepub.NewPublisher(client, cfg.EventBusName, logger)
}

// ProvideLogFactory builds fresh per-session operation log replicas
func ProvideLogFactory(archive ports.OperationArchive, logger *zap.Logger) services.LogFactory {
	return func() ports.OperationLog {
		return memory.NewOperationLog(archive, logger)
	}
}

// ProvideHub creates the WebSocket hub
func ProvideHub(metrics *observability.Collector, logger *zap.Logger) *websocket.Hub {
	return websocket.NewHub(metrics, logger)
}

// ProvideSessionManager assembles the session registry and its channel.
// The channel fans out through the manager, so it is installed after
// construction.
func ProvideSessionManager(
	cfg *config.Config,
	factory services.LogFactory,
	graphs ports.GraphStore,
	bus ports.EventBus,
	hub *websocket.Hub,
	metrics *observability.Collector,
	logger *zap.Logger,
) *services.SessionManager {
	manager := services.NewSessionManager(factory, services.SessionConfig{
		Graphs:      graphs,
		Bus:         bus,
		Metrics:     metrics,
		Logger:      logger,
		MergeWindow: cfg.Editing.MergeWindow,
	})
	channel := websocket.NewChannel(hub, manager, logger)
	manager.SetChannel(channel)
	manager.SetNotificationSink(channel)
	return manager
}

// ProvideWSServer creates the WebSocket upgrade server
func ProvideWSServer(hub *websocket.Hub, validator *auth.JWTValidator, logger *zap.Logger) *websocket.Server {
	return websocket.NewServer(hub, validator, nil, logger)
}

// ProvideWatcher starts dynamic config tracking and feeds reloaded limits
// into the session layer. Returns nil when no dynamic config file is
// configured, or when the file cannot be loaded at startup.
func ProvideWatcher(cfg *config.Config, sessions *services.SessionManager, logger *zap.Logger) *config.Watcher {
	if cfg.DynamicConfigPath == "" {
		return nil
	}
	watcher, err := config.NewWatcher(cfg.DynamicConfigPath, logger)
	if err != nil {
		logger.Warn("Dynamic config disabled", zap.Error(err))
		return nil
	}
	sessions.SetMergeWindow(watcher.Limits().MergeWindow())
	watcher.OnChange(func(dc *config.DynamicConfig) {
		sessions.SetMergeWindow(dc.Limits.MergeWindow())
	})
	return watcher
}

// ProvideRouter assembles the HTTP router
func ProvideRouter(
	cfg *config.Config,
	sessions *services.SessionManager,
	archive ports.OperationArchive,
	wsServer *websocket.Server,
	validator *auth.JWTValidator,
	metrics *observability.Collector,
	logger *zap.Logger,
) *rest.Router {
	return rest.NewRouter(rest.RouterOptions{
		Sessions:   sessions,
		Archive:    archive,
		WSServer:   wsServer,
		Validator:  validator,
		Metrics:    metrics,
		Logger:     logger,
		EnableCORS: cfg.EnableCORS,
	})
}
