package minio

import (
	"context"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// PostUploadPolicy 浏览器直传的表单策略参数
type PostUploadPolicy struct {
	ObjectName  string
	ContentType string
	MaxSize     int64
	Expires     time.Time
}

// PresignedPostPolicy 生成直传 POST 策略，返回上传地址和表单字段
func (c *Client) PresignedPostPolicy(ctx context.Context, p PostUploadPolicy) (*url.URL, map[string]string, error) {
	if err := c.checkClosed(); err != nil {
		return nil, nil, err
	}
	if err := ValidateObjectName(p.ObjectName); err != nil {
		return nil, nil, WrapError("PresignedPostPolicy", err, c.config.Bucket, p.ObjectName)
	}

	policy := minio.NewPostPolicy()
	if err := policy.SetBucket(c.config.Bucket); err != nil {
		return nil, nil, WrapError("PresignedPostPolicy", err, c.config.Bucket, p.ObjectName)
	}
	if err := policy.SetKey(p.ObjectName); err != nil {
		return nil, nil, WrapError("PresignedPostPolicy", err, c.config.Bucket, p.ObjectName)
	}
	if err := policy.SetExpires(p.Expires.UTC()); err != nil {
		return nil, nil, WrapError("PresignedPostPolicy", err, c.config.Bucket, p.ObjectName)
	}
	if p.ContentType != "" {
		if err := policy.SetContentType(p.ContentType); err != nil {
			return nil, nil, WrapError("PresignedPostPolicy", err, c.config.Bucket, p.ObjectName)
		}
	}
	if p.MaxSize > 0 {
		if err := policy.SetContentLengthRange(1, p.MaxSize); err != nil {
			return nil, nil, WrapError("PresignedPostPolicy", err, c.config.Bucket, p.ObjectName)
		}
	}

	u, fields, err := c.client.PresignedPostPolicy(ctx, policy)
	if err != nil {
		return nil, nil, WrapError("PresignedPostPolicy", err, c.config.Bucket, p.ObjectName)
	}

	c.logger.Debug("presigned post policy generated", zap.String("object", p.ObjectName))
	return u, fields, nil
}
