//go:build wireinject
// +build wireinject

package di

import (
	"AstroCal/pkg/config"
	"AstroCal/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation in wire_gen.go.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisCache,
		ProvideCache,
		ProvideClickHouseClient,
		ProvideKafkaProducer,

		// Ephemeris and core services
		ProvideEphemerisProvider,
		ProvideAssembler,
		ProvideCalculator,

		// Repositories
		ProvideChartStore,
		ProvideEventPublisher,

		// Use cases
		ProvideChartDefaults,
		ProvideChartUseCase,
		ProvideSearchDefaults,
		ProvideProgressionUseCase,
		ProvideSearchHandler,

		// Job intake
		ProvideKafkaConsumer,
		ProvideJobQueue,

		// Transport and application
		ProvideRouter,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
