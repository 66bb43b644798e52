package data

import (
	"context"
	"errors"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/lk2023060901/medora-backend/internal/document/biz"
	"go.uber.org/zap"
)

// BlobConfig 对象存储适配层配置
type BlobConfig struct {
	Driver         string        `mapstructure:"driver"` // minio | s3
	PublicBaseURL  string        `mapstructure:"public_base_url"`
	PresignExpiry  time.Duration `mapstructure:"presign_expiry"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	ThumbnailSize  int           `mapstructure:"thumbnail_size"`

	// AllowedMIMETypes 与 documents.allowed_mime_types 共用一份列表，由 conf 在加载后填充
	AllowedMIMETypes []string `mapstructure:"-"`
}

// DefaultBlobConfig 返回默认配置
func DefaultBlobConfig() *BlobConfig {
	return &BlobConfig{
		Driver:         "minio",
		PresignExpiry:  15 * time.Minute,
		MaxUploadBytes: 5 << 20,
		ThumbnailSize:  320,

		AllowedMIMETypes: biz.DefaultPolicy().AllowedMIMETypes,
	}
}

var errNoSuchObject = errors.New("object does not exist")

// objectMeta 后端返回的对象元数据
type objectMeta struct {
	size        int64
	contentType string
}

// presignedForm 后端生成的直传凭证
type presignedForm struct {
	method string
	url    string
	fields map[string]string
}

// objectBackend 具体对象存储后端，不存在的对象统一返回 errNoSuchObject
type objectBackend interface {
	put(ctx context.Context, key string, data []byte, contentType string) error
	get(ctx context.Context, key string) (io.ReadCloser, objectMeta, error)
	stat(ctx context.Context, key string) (objectMeta, error)
	remove(ctx context.Context, key string) error
	presign(ctx context.Context, key, contentType string, maxSize int64, expires time.Time) (*presignedForm, error)
	bucket() string
}

// BlobStore biz.BlobStore 的实现，负责对象 key、图片处理与公开地址
type BlobStore struct {
	backend objectBackend
	cfg     *BlobConfig
	logger  *zap.Logger
	newID   func() string
	now     func() time.Time
}

func newBlobStore(backend objectBackend, cfg *BlobConfig, logger *zap.Logger) *BlobStore {
	if cfg == nil {
		cfg = DefaultBlobConfig()
	}
	return &BlobStore{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		newID:   func() string { return uuid.New().String() },
		now:     time.Now,
	}
}

// Upload 写入对象；图片去除元数据并额外生成缩略图
func (s *BlobStore) Upload(ctx context.Context, in biz.BlobUpload) (*biz.BlobRef, error) {
	if in.OwnerID == "" {
		return nil, biz.NewError(biz.ErrValidationFailed, "owner id is required")
	}
	if len(in.Data) == 0 {
		return nil, biz.NewError(biz.ErrValidationFailed, "file is empty")
	}
	if s.cfg.MaxUploadBytes > 0 && int64(len(in.Data)) > s.cfg.MaxUploadBytes {
		return nil, biz.NewError(biz.ErrValidationFailed, "file exceeds %d bytes", s.cfg.MaxUploadBytes)
	}

	mt := mimetype.Detect(in.Data)
	contentType := mt.String()
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	if !s.allowed(contentType) {
		return nil, biz.NewError(biz.ErrValidationFailed, "file type %q is not allowed", contentType)
	}
	ext := mt.Extension()
	if ext == ".jpeg" {
		ext = ".jpg"
	}

	id := s.newID()
	key := in.OwnerID + "/" + id + ext

	data, err := stripMetadata(contentType, in.Data)
	if err != nil {
		return nil, biz.WrapError(biz.ErrValidationFailed, err, "invalid %s image", contentType)
	}

	if err := s.backend.put(ctx, key, data, contentType); err != nil {
		return nil, biz.WrapError(biz.ErrUploadFailed, err, "failed to store %s", in.FileName)
	}

	ref := &biz.BlobRef{
		ExternalID: key,
		URL:        s.publicURL(key),
		Format:     strings.TrimPrefix(ext, "."),
		SizeBytes:  int64(len(data)),
	}

	if strings.HasPrefix(contentType, "image/") {
		thumbKey := thumbnailKey(key)
		if thumbKey != "" {
			if err := s.putThumbnail(ctx, thumbKey, data); err != nil {
				s.logger.Warn("failed to generate thumbnail",
					zap.String("external_id", key),
					zap.Error(err),
				)
			} else {
				ref.ThumbnailURL = s.publicURL(thumbKey)
			}
		}
	}

	s.logger.Debug("blob uploaded",
		zap.String("external_id", key),
		zap.String("content_type", contentType),
		zap.Int64("size_bytes", ref.SizeBytes),
	)
	return ref, nil
}

func (s *BlobStore) allowed(contentType string) bool {
	if len(s.cfg.AllowedMIMETypes) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedMIMETypes, strings.ToLower(contentType))
}

func (s *BlobStore) putThumbnail(ctx context.Context, key string, data []byte) error {
	thumb, err := makeThumbnail(data, s.cfg.ThumbnailSize)
	if err != nil {
		return err
	}
	return s.backend.put(ctx, key, thumb, "image/jpeg")
}

// Delete 删除对象及其缩略图，对象不存在视为成功
func (s *BlobStore) Delete(ctx context.Context, externalID string) error {
	if externalID == "" {
		return nil
	}
	if err := s.backend.remove(ctx, externalID); err != nil && !errors.Is(err, errNoSuchObject) {
		return biz.WrapError(biz.ErrUploadFailed, err, "failed to delete %s", externalID)
	}
	if thumbKey := thumbnailKey(externalID); thumbKey != "" {
		if err := s.backend.remove(ctx, thumbKey); err != nil && !errors.Is(err, errNoSuchObject) {
			s.logger.Warn("failed to delete thumbnail",
				zap.String("external_id", externalID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Open 打开对象读取流
func (s *BlobStore) Open(ctx context.Context, externalID string) (io.ReadCloser, *biz.BlobInfo, error) {
	rc, meta, err := s.backend.get(ctx, externalID)
	if err != nil {
		if errors.Is(err, errNoSuchObject) {
			return nil, nil, biz.NewError(biz.ErrNotFound, "object %s not found", externalID)
		}
		return nil, nil, biz.WrapError(biz.ErrUploadFailed, err, "failed to open %s", externalID)
	}
	return rc, s.info(externalID, meta), nil
}

// Stat 读取对象元数据
func (s *BlobStore) Stat(ctx context.Context, externalID string) (*biz.BlobInfo, error) {
	meta, err := s.backend.stat(ctx, externalID)
	if err != nil {
		if errors.Is(err, errNoSuchObject) {
			return nil, biz.NewError(biz.ErrNotFound, "object %s not found", externalID)
		}
		return nil, biz.WrapError(biz.ErrUploadFailed, err, "failed to stat %s", externalID)
	}
	return s.info(externalID, meta), nil
}

// PresignUpload 签发直传凭证，key 由服务端生成
func (s *BlobStore) PresignUpload(ctx context.Context, ownerID, fileName, contentType string) (*biz.PresignedUpload, error) {
	if ownerID == "" {
		return nil, biz.NewError(biz.ErrValidationFailed, "owner id is required")
	}
	if contentType != "" && !s.allowed(contentType) {
		return nil, biz.NewError(biz.ErrValidationFailed, "file type %q is not allowed", contentType)
	}
	ext := extensionFor(fileName, contentType)
	key := ownerID + "/" + s.newID() + ext
	expires := s.now().Add(s.cfg.PresignExpiry).UTC()

	form, err := s.backend.presign(ctx, key, contentType, s.cfg.MaxUploadBytes, expires)
	if err != nil {
		return nil, biz.WrapError(biz.ErrUploadFailed, err, "failed to presign upload")
	}
	return &biz.PresignedUpload{
		Method:     form.method,
		URL:        form.url,
		Fields:     form.fields,
		ExternalID: key,
		ExpiresAt:  expires,
	}, nil
}

func (s *BlobStore) info(externalID string, meta objectMeta) *biz.BlobInfo {
	return &biz.BlobInfo{
		ExternalID:  externalID,
		URL:         s.publicURL(externalID),
		ContentType: meta.contentType,
		SizeBytes:   meta.size,
	}
}

// publicURL <public_base_url>/<bucket>/<key>
func (s *BlobStore) publicURL(key string) string {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	if base == "" {
		return ""
	}
	return base + "/" + s.backend.bucket() + "/" + key
}

// thumbnailKey owner/uuid.ext → owner/thumbs/uuid.jpg
func thumbnailKey(externalID string) string {
	owner, name, ok := strings.Cut(externalID, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return ""
	}
	return owner + "/thumbs/" + strings.TrimSuffix(name, path.Ext(name)) + ".jpg"
}

// extensionFor 优先按声明类型取扩展名，其次按文件名
func extensionFor(fileName, contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	}
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(fileName, "\\", "/")))
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	return ext
}

var _ biz.BlobStore = (*BlobStore)(nil)
