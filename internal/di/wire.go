//go:build wireinject
// +build wireinject

package di

import (
	"klinecast/pkg/config"
	"klinecast/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,
		ProvideClock,

		// Infrastructure clients
		ProvideMongoClient,
		ProvideBus,

		// Repositories
		ProvideStore,
		ProvideSource,
		ProvideArtifacts,

		// Use cases
		ProvideIngestor,
		ProvidePredictor,

		// Transport
		ProvideAPIHandler,
		ProvideBroker,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
