package data

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/lk2023060901/medora-backend/internal/pkg/minio"
	"go.uber.org/zap"
)

// minioBackend 基于 internal/pkg/minio 的对象后端，直传使用 POST 表单策略
type minioBackend struct {
	client *minio.Client
}

// NewMinioBlobStore 创建 MinIO 对象存储
func NewMinioBlobStore(client *minio.Client, cfg *BlobConfig, logger *zap.Logger) *BlobStore {
	return newBlobStore(&minioBackend{client: client}, cfg, logger.Named("blob.minio"))
}

func (b *minioBackend) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := b.client.PutObject(ctx, key, bytes.NewReader(data), int64(len(data)), contentType, nil)
	return err
}

func (b *minioBackend) get(ctx context.Context, key string) (io.ReadCloser, objectMeta, error) {
	rc, info, err := b.client.GetObject(ctx, key)
	if err != nil {
		if minio.IsNotFound(err) {
			return nil, objectMeta{}, errNoSuchObject
		}
		return nil, objectMeta{}, err
	}
	return rc, objectMeta{size: info.Size, contentType: info.ContentType}, nil
}

func (b *minioBackend) stat(ctx context.Context, key string) (objectMeta, error) {
	info, err := b.client.StatObject(ctx, key)
	if err != nil {
		if minio.IsNotFound(err) {
			return objectMeta{}, errNoSuchObject
		}
		return objectMeta{}, err
	}
	return objectMeta{size: info.Size, contentType: info.ContentType}, nil
}

func (b *minioBackend) remove(ctx context.Context, key string) error {
	return b.client.RemoveObject(ctx, key)
}

func (b *minioBackend) presign(ctx context.Context, key, contentType string, maxSize int64, expires time.Time) (*presignedForm, error) {
	u, fields, err := b.client.PresignedPostPolicy(ctx, minio.PostUploadPolicy{
		ObjectName:  key,
		ContentType: contentType,
		MaxSize:     maxSize,
		Expires:     expires,
	})
	if err != nil {
		return nil, err
	}
	return &presignedForm{method: http.MethodPost, url: u.String(), fields: fields}, nil
}

func (b *minioBackend) bucket() string {
	return b.client.Bucket()
}
