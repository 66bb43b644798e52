package minio

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// ObjectInfo 对象元数据
type ObjectInfo = minio.ObjectInfo

// PutObject 上传对象到文档桶
func (c *Client) PutObject(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string, metadata map[string]string) (minio.UploadInfo, error) {
	if err := c.checkClosed(); err != nil {
		return minio.UploadInfo{}, err
	}
	if err := ValidateObjectName(objectName); err != nil {
		return minio.UploadInfo{}, WrapError("PutObject", err, c.config.Bucket, objectName)
	}

	info, err := c.client.PutObject(ctx, c.config.Bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return minio.UploadInfo{}, WrapError("PutObject", err, c.config.Bucket, objectName)
	}

	c.logger.Debug("object uploaded",
		zap.String("object", objectName),
		zap.Int64("size", info.Size),
	)
	return info, nil
}

// GetObject 打开对象读取流，对象不存在时返回 ErrObjectNotFound
func (c *Client) GetObject(ctx context.Context, objectName string) (io.ReadCloser, ObjectInfo, error) {
	if err := c.checkClosed(); err != nil {
		return nil, ObjectInfo{}, err
	}

	obj, err := c.client.GetObject(ctx, c.config.Bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, WrapError("GetObject", err, c.config.Bucket, objectName)
	}
	// GetObject 是惰性的，Stat 才会真正发起请求
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if IsNotFound(err) {
			return nil, ObjectInfo{}, WrapError("GetObject", ErrObjectNotFound, c.config.Bucket, objectName)
		}
		return nil, ObjectInfo{}, WrapError("GetObject", err, c.config.Bucket, objectName)
	}
	return obj, info, nil
}

// StatObject 获取对象元数据
func (c *Client) StatObject(ctx context.Context, objectName string) (ObjectInfo, error) {
	if err := c.checkClosed(); err != nil {
		return ObjectInfo{}, err
	}

	info, err := c.client.StatObject(ctx, c.config.Bucket, objectName, minio.StatObjectOptions{})
	if err != nil {
		if IsNotFound(err) {
			return ObjectInfo{}, WrapError("StatObject", ErrObjectNotFound, c.config.Bucket, objectName)
		}
		return ObjectInfo{}, WrapError("StatObject", err, c.config.Bucket, objectName)
	}
	return info, nil
}

// RemoveObject 删除对象，对象不存在视为成功
func (c *Client) RemoveObject(ctx context.Context, objectName string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	err := c.client.RemoveObject(ctx, c.config.Bucket, objectName, minio.RemoveObjectOptions{})
	if err != nil && !IsNotFound(err) {
		return WrapError("RemoveObject", err, c.config.Bucket, objectName)
	}

	c.logger.Debug("object removed", zap.String("object", objectName))
	return nil
}
