package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mcfletch/fitting/application/ports"
	"github.com/mcfletch/fitting/application/services"
	"github.com/mcfletch/fitting/domain/core/validators"
	"github.com/mcfletch/fitting/infrastructure/config"
	"github.com/mcfletch/fitting/infrastructure/messaging"
	"github.com/mcfletch/fitting/infrastructure/messaging/eventbridge"
	"github.com/mcfletch/fitting/infrastructure/persistence/dynamodb"
	"github.com/mcfletch/fitting/infrastructure/persistence/memory"
	"github.com/mcfletch/fitting/infrastructure/persistence/sqlite"
	"github.com/mcfletch/fitting/pkg/extensions"
	"github.com/mcfletch/fitting/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config     *config.Config
	Logger     *zap.Logger
	Repository ports.FittingRepository
	EventBus   ports.EventBus
	Cache      ports.Cache
	Hooks      *extensions.HookManager
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
	Fittings   *services.FittingService
	Traversals *services.TraversalService
}

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}

	return zapCfg.Build()
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideFittingRepository creates the fitting store selected by configuration
func ProvideFittingRepository(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) (ports.FittingRepository, error) {
	switch cfg.StorageDriver {
	case config.StorageMemory:
		return memory.NewFittingStore(logger), nil

	case config.StorageSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return sqlite.NewFittingStore(db, logger)

	case config.StorageDynamoDB:
		return dynamodb.NewFittingStore(client, cfg.DynamoDBTable, cfg.IndexName, logger), nil

	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.StorageDriver)
	}
}

// ProvideEventBus creates an event bus: an EventBridge publisher when
// enabled, otherwise the in-process dispatcher.
func ProvideEventBus(client *awseventbridge.Client, cfg *config.Config, logger *zap.Logger) ports.EventBus {
	if cfg.EnableEventBridge {
		return eventbridge.NewEventBridgePublisher(client, cfg.EventBusName, logger)
	}
	return messaging.NewDispatcher(logger)
}

// ProvideEventPublisher narrows the event bus to its publishing side
func ProvideEventPublisher(eventBus ports.EventBus) ports.EventPublisher {
	return eventBus
}

// ProvideMetrics creates the metrics recorder, or nil when disabled
func ProvideMetrics(client *awscloudwatch.Client, cfg *config.Config, logger *zap.Logger) *observability.Metrics {
	if !cfg.EnableMetrics {
		return nil
	}
	namespace := fmt.Sprintf("%s/%s", cfg.MetricsNamespace, cfg.Environment)
	return observability.NewMetrics(client, namespace, logger)
}

// ProvideTracer creates the X-Ray tracer, or nil when disabled
func ProvideTracer(cfg *config.Config) *observability.Tracer {
	if !cfg.EnableTracing {
		return nil
	}
	return observability.NewTracer("fitting")
}

// ProvideHookManager creates the extension hook registry
func ProvideHookManager() *extensions.HookManager {
	return extensions.NewHookManager()
}

// ProvideFittingValidator creates the fitting validator
func ProvideFittingValidator() *validators.FittingValidator {
	return validators.NewFittingValidator()
}

// ProvideInMemoryCache creates the traversal snapshot cache
func ProvideInMemoryCache() ports.Cache {
	return NewInMemoryCache()
}

// ProvideFittingService creates the fitting service
func ProvideFittingService(
	repo ports.FittingRepository,
	validator *validators.FittingValidator,
	publisher ports.EventPublisher,
	hooks *extensions.HookManager,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *services.FittingService {
	return services.NewFittingService(repo, validator, publisher, hooks, metrics, logger)
}

// ProvideTraversalService creates the traversal service with its snapshot
// invalidation bound to the hook registry
func ProvideTraversalService(
	repo ports.FittingRepository,
	cache ports.Cache,
	tracer *observability.Tracer,
	metrics *observability.Metrics,
	hooks *extensions.HookManager,
	cfg *config.Config,
	logger *zap.Logger,
) *services.TraversalService {
	svc := services.NewTraversalService(repo, cache, tracer, metrics, logger, cfg.CacheTTL)
	svc.BindInvalidation(hooks)
	return svc
}
