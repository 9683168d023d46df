//go:build wireinject
// +build wireinject

package di

import (
	"Guardrail/pkg/config"
	"Guardrail/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideRedisCache,
		ProvideCache,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideAnchorStore,
		ProvideLedgerStore,
		ProvideRecordSink,
		ProvideBarStore,
		ProvideMarketStateProvider,

		// Notifications
		ProvideHub,
		ProvideOutbox,
		ProvideNotifier,

		// Services
		ProvideLedger,
		ProvideGate,
		ProvideVerifier,
		ProvideHealthMonitor,
		ProvideRuleset,

		// Use cases
		ProvideIntegrityMonitor,
		ProvideAuthorizer,
		ProvideAnchorSweeper,
		ProvideKillRequestHandler,

		// Transport and application
		ProvideGovernanceHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
