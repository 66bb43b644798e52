//go:build wireinject
// +build wireinject

package injector

import (
	"github.com/google/wire"
	"github.com/lk2023060901/medora-backend/internal/conf"
	"github.com/lk2023060901/medora-backend/internal/pkg/logger"
	"github.com/lk2023060901/medora-backend/internal/server"
)

// ProviderSet is the Wire provider set for all dependencies
var ProviderSet = wire.NewSet(
	// Data layer
	dataProviderSet,

	// Repositories
	repositoryProviderSet,

	// Use cases
	useCaseProviderSet,

	// HTTP services
	httpServiceProviderSet,

	// Servers and background workers
	serverProviderSet,
)

var dataProviderSet = wire.NewSet(
	provideData,
	provideRedisClient,
	provideHealthChecker,
	provideWorkerPool,
	provideJWTManager,
)

var repositoryProviderSet = wire.NewSet(
	provideDocumentRepo,
	provideLedgerRepo,
	provideBlobStore,
	provideAttemptLimiter,
)

var useCaseProviderSet = wire.NewSet(
	provideQuotaUseCase,
	provideDocumentUseCase,
	provideShareUseCase,
)

var httpServiceProviderSet = wire.NewSet(
	provideDocumentService,
	provideShareService,
)

var serverProviderSet = wire.NewSet(
	server.NewHTTPServer,
	provideJanitorWithStart,
)

// InitializeApp initializes the application with Wire
func InitializeApp(config *conf.Config, log *logger.Logger) (*App, func(), error) {
	wire.Build(ProviderSet, newApp)
	return nil, nil, nil
}
