package data

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// S3Config S3 兼容存储配置
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// NewS3Client 按配置创建 S3 客户端
func NewS3Client(ctx context.Context, cfg *S3Config) (*s3.Client, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint}, nil
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}

// s3Backend aws-sdk-go-v2 对象后端，直传使用预签名 PUT
type s3Backend struct {
	client     *s3.Client
	presigner  *s3.PresignClient
	bucketName string
}

// NewS3BlobStore 创建 S3 对象存储
func NewS3BlobStore(client *s3.Client, s3cfg *S3Config, cfg *BlobConfig, logger *zap.Logger) *BlobStore {
	backend := &s3Backend{
		client:     client,
		presigner:  s3.NewPresignClient(client),
		bucketName: s3cfg.Bucket,
	}
	return newBlobStore(backend, cfg, logger.Named("blob.s3"))
}

func (b *s3Backend) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("s3: put %s: %w", key, err)
	}
	return nil
}

func (b *s3Backend) get(ctx context.Context, key string) (io.ReadCloser, objectMeta, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, objectMeta{}, errNoSuchObject
		}
		return nil, objectMeta{}, fmt.Errorf("s3: get %s: %w", key, err)
	}
	return out.Body, objectMeta{
		size:        aws.ToInt64(out.ContentLength),
		contentType: aws.ToString(out.ContentType),
	}, nil
}

func (b *s3Backend) stat(ctx context.Context, key string) (objectMeta, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return objectMeta{}, errNoSuchObject
		}
		return objectMeta{}, fmt.Errorf("s3: head %s: %w", key, err)
	}
	return objectMeta{
		size:        aws.ToInt64(out.ContentLength),
		contentType: aws.ToString(out.ContentType),
	}, nil
}

// remove S3 删除不存在的 key 也返回成功
func (b *s3Backend) remove(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3: delete %s: %w", key, err)
	}
	return nil
}

func (b *s3Backend) presign(ctx context.Context, key, contentType string, _ int64, expires time.Time) (*presignedForm, error) {
	req, err := b.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucketName),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(time.Until(expires)))
	if err != nil {
		return nil, fmt.Errorf("s3: presign %s: %w", key, err)
	}

	// 签名覆盖的请求头，客户端上传时必须原样携带
	fields := make(map[string]string, len(req.SignedHeader))
	for name, values := range req.SignedHeader {
		if len(values) > 0 && name != "Host" {
			fields[name] = values[0]
		}
	}
	method := req.Method
	if method == "" {
		method = http.MethodPut
	}
	return &presignedForm{method: method, url: req.URL, fields: fields}, nil
}

func (b *s3Backend) bucket() string {
	return b.bucketName
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
