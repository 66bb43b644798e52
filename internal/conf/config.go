package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lk2023060901/medora-backend/internal/auth"
	"github.com/lk2023060901/medora-backend/internal/auth/middleware"
	"github.com/lk2023060901/medora-backend/internal/document/biz"
	docdata "github.com/lk2023060901/medora-backend/internal/document/data"
	"github.com/lk2023060901/medora-backend/internal/document/queue"
	"github.com/lk2023060901/medora-backend/internal/pkg/database"
	"github.com/lk2023060901/medora-backend/internal/pkg/logger"
	"github.com/lk2023060901/medora-backend/internal/pkg/minio"
	"github.com/lk2023060901/medora-backend/internal/pkg/redis"
	"github.com/lk2023060901/medora-backend/internal/pkg/workerpool"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 MEDORA_DATABASE_HOST
const EnvPrefix = "MEDORA"

type Config struct {
	Server     ServerConfig                 `mapstructure:"server"`
	Database   database.Config              `mapstructure:"database"`
	Redis      redis.Config                 `mapstructure:"redis"`
	MinIO      minio.Config                 `mapstructure:"minio"`
	S3         docdata.S3Config             `mapstructure:"s3"`
	Storage    docdata.BlobConfig           `mapstructure:"storage"`
	Documents  DocumentsConfig              `mapstructure:"documents"`
	Share      ShareConfig                  `mapstructure:"share"`
	Auth       auth.Config                  `mapstructure:"auth"`
	Log        logger.Config                `mapstructure:"log"`
	WorkerPool workerpool.Config            `mapstructure:"worker_pool"`
	RateLimit  middleware.RateLimiterConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DocumentsConfig 文档策略与回收站清理
type DocumentsConfig struct {
	DefaultQuotaBytes   int64         `mapstructure:"default_quota_bytes"`
	AllowedMIMETypes    []string      `mapstructure:"allowed_mime_types"`
	DefaultCategory     string        `mapstructure:"default_category"`
	MaxNameLength       int           `mapstructure:"max_name_length"`
	MaxTags             int           `mapstructure:"max_tags"`
	MaxTagLength        int           `mapstructure:"max_tag_length"`
	MaxBulkItems        int           `mapstructure:"max_bulk_items"`
	RecentWindow        time.Duration `mapstructure:"recent_window"`
	CompensationTimeout time.Duration `mapstructure:"compensation_timeout"`

	queue.JanitorConfig `mapstructure:",squash"`
}

type ShareConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	MaxPasswordAttempts int64         `mapstructure:"max_password_attempts"`
	AttemptWindow       time.Duration `mapstructure:"attempt_window"`
	BcryptCost          int           `mapstructure:"bcrypt_cost"`
	QRCodeSize          int           `mapstructure:"qrcode_size"`
}

// LoadConfig 读取配置文件，环境变量优先；path 为空时只用默认值和环境变量
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.Storage.AllowedMIMETypes = config.Documents.AllowedMIMETypes
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults 每个键都注册默认值，AutomaticEnv 才能覆盖到嵌套键
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	db := database.DefaultConfig()
	v.SetDefault("database.host", db.Host)
	v.SetDefault("database.port", db.Port)
	v.SetDefault("database.user", db.User)
	v.SetDefault("database.password", db.Password)
	v.SetDefault("database.dbname", db.DBName)
	v.SetDefault("database.sslmode", db.SSLMode)
	v.SetDefault("database.maxidleconns", db.MaxIdleConns)
	v.SetDefault("database.maxopenconns", db.MaxOpenConns)
	v.SetDefault("database.connmaxlifetime", db.ConnMaxLifetime)
	v.SetDefault("database.connmaxidletime", db.ConnMaxIdleTime)
	v.SetDefault("database.loglevel", db.LogLevel)
	v.SetDefault("database.slowthreshold", db.SlowThreshold)
	v.SetDefault("database.preparestmt", db.PrepareStmt)
	v.SetDefault("database.timezone", db.Timezone)
	v.SetDefault("database.automigrate", db.AutoMigrate)

	rd := redis.DefaultConfig()
	v.SetDefault("redis.mode", string(rd.Mode))
	v.SetDefault("redis.master_addr", rd.MasterAddr)
	v.SetDefault("redis.sentinel_addrs", []string{})
	v.SetDefault("redis.master_name", "")
	v.SetDefault("redis.cluster_addrs", []string{})
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", rd.DB)
	v.SetDefault("redis.pool_size", rd.PoolSize)
	v.SetDefault("redis.min_idle_conns", rd.MinIdleConns)
	v.SetDefault("redis.dial_timeout", rd.DialTimeout)
	v.SetDefault("redis.read_timeout", rd.ReadTimeout)
	v.SetDefault("redis.write_timeout", rd.WriteTimeout)
	v.SetDefault("redis.pool_timeout", rd.PoolTimeout)
	v.SetDefault("redis.max_retries", rd.MaxRetries)
	v.SetDefault("redis.key_prefix", rd.KeyPrefix)

	mc := minio.DefaultConfig()
	v.SetDefault("minio.endpoint", mc.Endpoint)
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.session_token", "")
	v.SetDefault("minio.region", mc.Region)
	v.SetDefault("minio.use_ssl", mc.UseSSL)
	v.SetDefault("minio.bucket_lookup", string(mc.BucketLookup))
	v.SetDefault("minio.trace_enabled", false)
	v.SetDefault("minio.bucket", mc.Bucket)
	v.SetDefault("minio.presign_expiry", mc.PresignExpiry)

	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "medora-documents")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.force_path_style", false)

	blob := docdata.DefaultBlobConfig()
	v.SetDefault("storage.driver", blob.Driver)
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("storage.presign_expiry", blob.PresignExpiry)
	v.SetDefault("storage.max_upload_bytes", blob.MaxUploadBytes)
	v.SetDefault("storage.thumbnail_size", blob.ThumbnailSize)

	policy := biz.DefaultPolicy()
	janitor := queue.DefaultJanitorConfig()
	v.SetDefault("documents.default_quota_bytes", biz.DefaultQuotaBytes)
	v.SetDefault("documents.allowed_mime_types", policy.AllowedMIMETypes)
	v.SetDefault("documents.default_category", policy.DefaultCategory)
	v.SetDefault("documents.max_name_length", policy.MaxNameLength)
	v.SetDefault("documents.max_tags", policy.MaxTags)
	v.SetDefault("documents.max_tag_length", policy.MaxTagLength)
	v.SetDefault("documents.max_bulk_items", policy.MaxBulkItems)
	v.SetDefault("documents.recent_window", policy.RecentWindow)
	v.SetDefault("documents.compensation_timeout", policy.CompensationTimeout)
	v.SetDefault("documents.trash_retention", janitor.Retention)
	v.SetDefault("documents.janitor_interval", janitor.Interval)
	v.SetDefault("documents.janitor_batch_size", janitor.BatchSize)
	v.SetDefault("documents.janitor_max_rounds", janitor.MaxRounds)

	v.SetDefault("share.base_url", "http://localhost:8080")
	v.SetDefault("share.max_password_attempts", 5)
	v.SetDefault("share.attempt_window", 15*time.Minute)
	v.SetDefault("share.bcrypt_cost", 10)
	v.SetDefault("share.qrcode_size", 256)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	lg := logger.DefaultConfig()
	v.SetDefault("log.level", lg.Level)
	v.SetDefault("log.format", lg.Format)
	v.SetDefault("log.output", lg.Output)
	v.SetDefault("log.enablecaller", lg.EnableCaller)
	v.SetDefault("log.enablestacktrace", lg.EnableStacktrace)
	v.SetDefault("log.skippaths", lg.SkipPaths)
	v.SetDefault("log.file.filename", lg.File.Filename)
	v.SetDefault("log.file.maxsize", lg.File.MaxSize)
	v.SetDefault("log.file.maxage", lg.File.MaxAge)
	v.SetDefault("log.file.maxbackups", lg.File.MaxBackups)
	v.SetDefault("log.file.compress", lg.File.Compress)

	wp := workerpool.DefaultConfig()
	v.SetDefault("worker_pool.workers", wp.Workers)
	v.SetDefault("worker_pool.max_blocking", wp.MaxBlockingTask)
	v.SetDefault("worker_pool.expiry_duration", wp.ExpiryDuration)
	v.SetDefault("worker_pool.release_timeout", wp.ReleaseTimeout)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.max_requests", 60)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.strategy", "ip")
}

// Validate 校验跨模块配置，各模块自身的细节校验在构造时完成
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	switch c.Storage.Driver {
	case "minio", "s3":
	default:
		return fmt.Errorf("unsupported storage.driver %q, must be minio or s3", c.Storage.Driver)
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return errors.New("storage.max_upload_bytes must be positive")
	}
	if c.Documents.DefaultQuotaBytes <= 0 {
		return errors.New("documents.default_quota_bytes must be positive")
	}
	if c.Share.BaseURL == "" {
		return errors.New("share.base_url is required")
	}
	return nil
}

// Addr HTTP 监听地址
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Policy 文档策略，上传上限与对象存储一致
func (c *Config) Policy() *biz.Policy {
	p := biz.DefaultPolicy()
	p.MaxUploadBytes = c.Storage.MaxUploadBytes
	if len(c.Documents.AllowedMIMETypes) > 0 {
		p.AllowedMIMETypes = c.Documents.AllowedMIMETypes
	}
	if c.Documents.DefaultCategory != "" {
		p.DefaultCategory = c.Documents.DefaultCategory
	}
	if c.Documents.MaxNameLength > 0 {
		p.MaxNameLength = c.Documents.MaxNameLength
	}
	if c.Documents.MaxTags > 0 {
		p.MaxTags = c.Documents.MaxTags
	}
	if c.Documents.MaxTagLength > 0 {
		p.MaxTagLength = c.Documents.MaxTagLength
	}
	if c.Documents.MaxBulkItems > 0 {
		p.MaxBulkItems = c.Documents.MaxBulkItems
	}
	if c.Documents.RecentWindow > 0 {
		p.RecentWindow = c.Documents.RecentWindow
	}
	if c.Documents.CompensationTimeout > 0 {
		p.CompensationTimeout = c.Documents.CompensationTimeout
	}
	return p
}

// ShareUseCaseConfig 分享用例配置
func (c *Config) ShareUseCaseConfig() *biz.ShareConfig {
	return &biz.ShareConfig{
		BaseURL:             c.Share.BaseURL,
		MaxPasswordAttempts: c.Share.MaxPasswordAttempts,
		BcryptCost:          c.Share.BcryptCost,
		QRCodeSize:          c.Share.QRCodeSize,
	}
}
