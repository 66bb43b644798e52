package injector

import (
	"context"

	"github.com/lk2023060901/medora-backend/internal/auth"
	"github.com/lk2023060901/medora-backend/internal/conf"
	"github.com/lk2023060901/medora-backend/internal/data"
	"github.com/lk2023060901/medora-backend/internal/document/biz"
	docdata "github.com/lk2023060901/medora-backend/internal/document/data"
	"github.com/lk2023060901/medora-backend/internal/document/queue"
	"github.com/lk2023060901/medora-backend/internal/document/service"
	"github.com/lk2023060901/medora-backend/internal/pkg/logger"
	pkgredis "github.com/lk2023060901/medora-backend/internal/pkg/redis"
	"github.com/lk2023060901/medora-backend/internal/pkg/workerpool"
	"github.com/lk2023060901/medora-backend/internal/server"
)

// Data layer

func provideData(config *conf.Config, log *logger.Logger) (*data.Data, func(), error) {
	return data.NewData(config, log)
}

func provideRedisClient(d *data.Data) *pkgredis.Client {
	return d.RedisClient
}

func provideHealthChecker(d *data.Data) server.HealthChecker {
	return d
}

func provideWorkerPool(config *conf.Config, log *logger.Logger) (*workerpool.Pool, func(), error) {
	pool, err := workerpool.New(&config.WorkerPool, log.Named("workerpool").Logger)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Shutdown, nil
}

func provideJWTManager(config *conf.Config) *auth.JWTManager {
	return auth.NewJWTManager(config.Auth.JWTSecret, config.Auth.Issuer)
}

// Repositories

func provideDocumentRepo(d *data.Data) biz.DocumentRepo {
	return docdata.NewDocumentRepo(d.DB)
}

func provideLedgerRepo(d *data.Data) biz.LedgerRepo {
	return docdata.NewLedgerRepo(d.DB)
}

func provideBlobStore(config *conf.Config, d *data.Data) biz.BlobStore {
	return data.NewBlobStore(config, d)
}

func provideAttemptLimiter(config *conf.Config, d *data.Data) biz.AttemptLimiter {
	return docdata.NewAttemptLimiter(d.RedisClient, config.Share.AttemptWindow)
}

// Use cases

func provideQuotaUseCase(repo biz.LedgerRepo, config *conf.Config, log *logger.Logger) *biz.QuotaUseCase {
	return biz.NewQuotaUseCase(repo, config.Documents.DefaultQuotaBytes, log.Named("quota"))
}

func provideDocumentUseCase(
	repo biz.DocumentRepo,
	blobs biz.BlobStore,
	quota *biz.QuotaUseCase,
	pool *workerpool.Pool,
	config *conf.Config,
	log *logger.Logger,
) *biz.DocumentUseCase {
	return biz.NewDocumentUseCase(repo, blobs, quota, pool, config.Policy(), log.Named("document"))
}

func provideShareUseCase(
	repo biz.DocumentRepo,
	blobs biz.BlobStore,
	limiter biz.AttemptLimiter,
	config *conf.Config,
	log *logger.Logger,
) *biz.ShareUseCase {
	return biz.NewShareUseCase(repo, blobs, limiter, config.ShareUseCaseConfig(), log.Named("share"))
}

// HTTP services

func provideDocumentService(
	docs *biz.DocumentUseCase,
	quota *biz.QuotaUseCase,
	shares *biz.ShareUseCase,
	log *logger.Logger,
) *service.DocumentService {
	return service.NewDocumentService(docs, quota, shares, log.Logger)
}

func provideShareService(shares *biz.ShareUseCase, log *logger.Logger) *service.ShareService {
	return service.NewShareService(shares, log.Logger)
}

// Background

func provideJanitorWithStart(
	docs *biz.DocumentUseCase,
	redisClient *pkgredis.Client,
	config *conf.Config,
	log *logger.Logger,
) (*queue.Janitor, func(), error) {
	janitor := queue.NewJanitor(docs, redisClient, config.Documents.JanitorConfig, log.Logger)
	if err := janitor.Start(context.Background()); err != nil {
		return nil, nil, err
	}
	return janitor, janitor.Stop, nil
}
