//go:build wireinject
// +build wireinject

package di

import (
	"OTCFeed/pkg/config"
	"OTCFeed/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideScheduler,
		ProvideCache,
		ProvideClickHouseClient,
		ProvideKafkaConsumer,
		ProvideHTTPClient,

		// Repositories
		ProvideTickStore,
		ProvideJournal,
		ProvideArchive,

		// Domain services
		ProvideCatalog,
		ProvideEvaluator,
		ProvideTwelveDataREST,
		ProvideBinanceREST,
		ProvideUpstreamFactory,

		// Use cases
		ProvideHub,
		ProvideTickProcessor,
		ProvideTickPipeline,
		ProvideRegistry,
		ProvideSourceManager,
		ProvideCandlesUseCase,
		ProvideKafkaTicksHandler,

		// Transport
		ProvideMarketHandler,
		ProvideWSHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
