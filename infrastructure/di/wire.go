//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"flowdeck-backend/infrastructure/config"
)

// SuperSet is the main provider set
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideJWTValidator,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideOperationArchive,
	ProvideGraphStore,
	ProvideEventBus,
	ProvideLogFactory,
	ProvideHub,
	ProvideSessionManager,
	ProvideWSServer,
	ProvideWatcher,
	ProvideRouter,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(SuperSet)
	return nil, nil // Wire will replace this
}
