package di

import (
	"context"

	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"flowdeck-backend/application/ports"
	"flowdeck-backend/application/services"
	"flowdeck-backend/infrastructure/config"
	"flowdeck-backend/interfaces/http/rest"
	"flowdeck-backend/interfaces/websocket"
	"flowdeck-backend/pkg/auth"
	"flowdeck-backend/pkg/observability"
)

// Container holds the application's wired dependencies
type Container struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *observability.Collector
	Validator *auth.JWTValidator
	Archive   ports.OperationArchive
	Graphs    ports.GraphStore
	EventBus  ports.EventBus
	Hub       *websocket.Hub
	WSServer  *websocket.Server
	Sessions  *services.SessionManager
	Router    *rest.Router
	Watcher   *config.Watcher
}

// NewContainer assembles the full dependency graph
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	logger, err := ProvideLogger(cfg)
	if err != nil {
		return nil, err
	}
	metrics := ProvideMetrics(cfg)
	validator, err := ProvideJWTValidator(cfg)
	if err != nil {
		return nil, err
	}

	var (
		dynamoClient *awsdynamodb.Client
		archive      ports.OperationArchive
	)
	if cfg.Persistence == "dynamodb" {
		dynamoClient, err = ProvideDynamoDBClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		archive = ProvideOperationArchive(cfg, dynamoClient, logger)
	}
	graphs := ProvideGraphStore(cfg, dynamoClient, logger)

	var eventBus ports.EventBus
	if cfg.EventBusName != "" {
		ebClient, err := ProvideEventBridgeClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		eventBus = ProvideEventBus(cfg, ebClient, logger)
	}

	hub := ProvideHub(metrics, logger)
	factory := ProvideLogFactory(archive, logger)
	sessions := ProvideSessionManager(cfg, factory, graphs, eventBus, hub, metrics, logger)

	wsServer := ProvideWSServer(hub, validator, logger)
	watcher := ProvideWatcher(cfg, sessions, logger)
	router := ProvideRouter(cfg, sessions, archive, wsServer, validator, metrics, logger)

	return &Container{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Validator: validator,
		Archive:   archive,
		Graphs:    graphs,
		EventBus:  eventBus,
		Hub:       hub,
		WSServer:  wsServer,
		Sessions:  sessions,
		Router:    router,
		Watcher:   watcher,
	}, nil
}
