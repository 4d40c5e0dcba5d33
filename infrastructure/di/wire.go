//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/mcfletch/fitting/infrastructure/config"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideCloudWatchClient,
	ProvideFittingRepository,
	ProvideEventBus,
	ProvideEventPublisher,
	ProvideMetrics,
	ProvideTracer,
	ProvideHookManager,
	ProvideFittingValidator,
	ProvideInMemoryCache,
	ProvideFittingService,
	ProvideTraversalService,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(SuperSet)
	return nil, nil // Wire will replace this
}
