//go:build wireinject
// +build wireinject

package di

import (
	"ForeCrypt/pkg/config"
	"ForeCrypt/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Storage
		ProvideStores,
		ProvideArtifactStore,
		ProvideRedisCache,
		ProvideSharedCache,
		ProvideTickLocker,
		ProvideTickQueue,
		ProvideReportCache,
		ProvideClickHouseClient,
		ProvideMirrorPipeline,
		ProvideMirror,

		// Upstream and models
		ProvideRateLimiter,
		ProvidePriceSource,
		ProvideAlgorithms,

		// Streaming
		ProvideKafkaProducer,
		ProvidePublisher,
		ProvideLogCollector,
		ProvideKafkaConsumer,
		ProvideMirrorHandlers,

		// Use cases
		ProvideCycleScheduler,
		ProvideForecastsUseCase,
		ProvideMaintenance,

		// Delivery
		ProvideTickFeed,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
