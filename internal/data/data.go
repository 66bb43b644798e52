package data

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/lk2023060901/medora-backend/internal/conf"
	docdata "github.com/lk2023060901/medora-backend/internal/document/data"
	"github.com/lk2023060901/medora-backend/internal/pkg/database"
	"github.com/lk2023060901/medora-backend/internal/pkg/logger"
	"github.com/lk2023060901/medora-backend/internal/pkg/minio"
	pkgredis "github.com/lk2023060901/medora-backend/internal/pkg/redis"
	"go.uber.org/zap"
)

// Data 基础设施连接，按 storage.driver 只初始化 MinIO 或 S3 其中之一
type Data struct {
	DB          *database.DB
	RedisClient *pkgredis.Client
	MinIOClient *minio.Client
	S3Client    *s3.Client
	Logger      *logger.Logger
}

func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(&config.Database, log.Named("database"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init database: %w", err)
	}
	if err := db.AutoMigrate(&docdata.DocumentPO{}, &docdata.StorageLedgerPO{}); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	redisClient, err := pkgredis.New(&config.Redis, log.Named("redis"))
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to init redis: %w", err)
	}

	d := &Data{
		DB:          db,
		RedisClient: redisClient,
		Logger:      log,
	}

	switch config.Storage.Driver {
	case "s3":
		d.S3Client, err = initS3(ctx, &config.S3, log)
	default:
		d.MinIOClient, err = initMinIO(ctx, &config.MinIO, log)
	}
	if err != nil {
		_ = redisClient.Close()
		_ = db.Close()
		return nil, nil, err
	}

	cleanup := func() {
		log.Info("cleaning up data resources")
		if d.MinIOClient != nil {
			_ = d.MinIOClient.Close()
		}
		_ = redisClient.Close()
		_ = db.Close()
	}

	return d, cleanup, nil
}

func initMinIO(ctx context.Context, cfg *minio.Config, log *logger.Logger) (*minio.Client, error) {
	client, err := minio.NewClient(cfg, log.Logger.Named("minio"))
	if err != nil {
		return nil, fmt.Errorf("failed to init minio: %w", err)
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure minio bucket: %w", err)
	}
	return client, nil
}

func initS3(ctx context.Context, cfg *docdata.S3Config, log *logger.Logger) (*s3.Client, error) {
	client, err := docdata.NewS3Client(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init s3: %w", err)
	}
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to reach s3 bucket %s: %w", cfg.Bucket, err)
	}
	log.Info("s3 client initialized successfully",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("bucket", cfg.Bucket),
	)
	return client, nil
}

// NewBlobStore 按 storage.driver 选择对象存储实现
func NewBlobStore(config *conf.Config, d *Data) *docdata.BlobStore {
	if d.S3Client != nil {
		return docdata.NewS3BlobStore(d.S3Client, &config.S3, &config.Storage, d.Logger.Logger)
	}
	return docdata.NewMinioBlobStore(d.MinIOClient, &config.Storage, d.Logger.Logger)
}

// HealthCheck 数据库与 Redis 可用性
func (d *Data) HealthCheck(ctx context.Context) error {
	if err := d.DB.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := d.RedisClient.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}
