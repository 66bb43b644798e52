package minio

import (
	"errors"
	"time"
)

// BucketLookupType bucket 寻址方式
type BucketLookupType string

const (
	BucketLookupAuto BucketLookupType = "auto"
	BucketLookupDNS  BucketLookupType = "dns"
	BucketLookupPath BucketLookupType = "path"
)

// Config MinIO 客户端配置
type Config struct {
	Endpoint        string           `mapstructure:"endpoint"` // 例如 localhost:9000
	AccessKeyID     string           `mapstructure:"access_key_id"`
	SecretAccessKey string           `mapstructure:"secret_access_key"`
	SessionToken    string           `mapstructure:"session_token"`
	Region          string           `mapstructure:"region"`
	UseSSL          bool             `mapstructure:"use_ssl"`
	BucketLookup    BucketLookupType `mapstructure:"bucket_lookup"`
	TraceEnabled    bool             `mapstructure:"trace_enabled"`

	// Bucket 文档存储桶
	Bucket string `mapstructure:"bucket"`
	// PresignExpiry 预签名上传/下载的有效期
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Endpoint:      "localhost:9000",
		Region:        "us-east-1",
		BucketLookup:  BucketLookupAuto,
		Bucket:        "medora-documents",
		PresignExpiry: 15 * time.Minute,
	}
}

// SetDefaults 填充未设置的字段
func (c *Config) SetDefaults() {
	if c.BucketLookup == "" {
		c.BucketLookup = BucketLookupAuto
	}
	if c.PresignExpiry <= 0 {
		c.PresignExpiry = 15 * time.Minute
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: endpoint is required")
	}
	if c.AccessKeyID == "" {
		return errors.New("minio: access key ID is required")
	}
	if c.SecretAccessKey == "" {
		return errors.New("minio: secret access key is required")
	}
	if c.Bucket == "" {
		return errors.New("minio: bucket is required")
	}
	if err := ValidateBucketName(c.Bucket); err != nil {
		return err
	}
	switch c.BucketLookup {
	case "", BucketLookupAuto, BucketLookupDNS, BucketLookupPath:
	default:
		return errors.New("minio: invalid bucket lookup type")
	}
	return nil
}
