package biz

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/lk2023060901/medora-backend/internal/pkg/logger"
	"github.com/lk2023060901/medora-backend/internal/pkg/workerpool"
	"go.uber.org/zap"
)

// FileTypeCategory 文件大类
type FileTypeCategory string

const (
	FileTypeImage FileTypeCategory = "image"
	FileTypePDF   FileTypeCategory = "pdf"
)

// FileInfo 上传文件信息，上传后不可变
type FileInfo struct {
	Name             string
	SizeBytes        int64
	MimeType         string
	FileTypeCategory FileTypeCategory
}

// BlobRef 对象存储引用，上传后不可变
type BlobRef struct {
	ExternalID   string
	URL          string
	ThumbnailURL string
	Format       string
	SizeBytes    int64
}

// Document 文档记录
type Document struct {
	ID            string
	OwnerID       string
	Name          string
	Category      string
	CategoryLabel string
	Description   string
	Tags          []string
	PatientID     string
	FileInfo      FileInfo
	BlobRef       BlobRef
	IsStarred     bool
	StarredAt     *time.Time
	IsTrashed     bool
	TrashedAt     *time.Time
	Share         *ShareSettings
	UploadedAt    time.Time
	UpdatedAt     time.Time
	Version       int64
}

// TrashFilter 回收站过滤方式
type TrashFilter string

const (
	TrashExclude TrashFilter = "exclude"
	TrashOnly    TrashFilter = "only"
	TrashAny     TrashFilter = "any"
)

// DocumentFilter 查询条件，各条件之间为 AND 关系
type DocumentFilter struct {
	Trashed       TrashFilter
	StarredOnly   bool
	Category      string
	PatientID     string
	Search        string
	UploadedAfter *time.Time
	Page          int
	PageSize      int
}

// StarState 收藏状态，IsStarred 与 StarredAt 同时写入
type StarState struct {
	IsStarred bool
	StarredAt *time.Time
}

// TrashState 回收站状态，IsTrashed 与 TrashedAt 同时写入
type TrashState struct {
	IsTrashed bool
	TrashedAt *time.Time
}

// DocumentUpdate 定向字段更新，nil 字段不修改
type DocumentUpdate struct {
	Name          *string
	Category      *string
	CategoryLabel *string
	Description   *string
	Tags          *[]string
	PatientID     *string
	Star          *StarState
	Trash         *TrashState

	// Share 写入分享设置；计数器仅在 ResetShareCounters 时清零
	Share              *ShareSettings
	ResetShareCounters bool
	ClearShare         bool
}

// CategoryCount 分类统计
type CategoryCount struct {
	Category string
	Label    string
	Count    int64
}

// DocumentRepo 文档记录存储接口
type DocumentRepo interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, id string) (*Document, error)
	Query(ctx context.Context, ownerID string, filter DocumentFilter) ([]*Document, int64, error)
	Update(ctx context.Context, id string, expectedVersion int64, upd DocumentUpdate) (*Document, error)
	Delete(ctx context.Context, id string) error
	// DeleteTrashedBefore 仅当记录仍处于该版本且删除时间早于 cutoff 时删除，返回是否删除
	DeleteTrashedBefore(ctx context.Context, id string, version int64, cutoff time.Time) (bool, error)
	GetByShareID(ctx context.Context, shareID string) (*Document, error)
	IncrementShareViews(ctx context.Context, shareID string) (int64, error)
	IncrementShareDownloads(ctx context.Context, shareID string) (int64, error)
	ListTrashedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Document, error)
	CountCategories(ctx context.Context, ownerID string) ([]CategoryCount, error)
}

// BlobUpload 上传到对象存储的内容
type BlobUpload struct {
	OwnerID     string
	FileName    string
	ContentType string
	Data        []byte
}

// BlobInfo 对象元信息
type BlobInfo struct {
	ExternalID  string
	URL         string
	ContentType string
	SizeBytes   int64
}

// PresignedUpload 直传预签名结果
type PresignedUpload struct {
	Method     string
	URL        string
	Fields     map[string]string
	ExternalID string
	ExpiresAt  time.Time
}

// BlobStore 对象存储接口
type BlobStore interface {
	Upload(ctx context.Context, in BlobUpload) (*BlobRef, error)
	Delete(ctx context.Context, externalID string) error
	Open(ctx context.Context, externalID string) (io.ReadCloser, *BlobInfo, error)
	Stat(ctx context.Context, externalID string) (*BlobInfo, error)
	PresignUpload(ctx context.Context, ownerID, fileName, contentType string) (*PresignedUpload, error)
}

// DocumentUseCase 文档生命周期用例
type DocumentUseCase struct {
	repo   DocumentRepo
	blobs  BlobStore
	quota  *QuotaUseCase
	pool   *workerpool.Pool
	policy *Policy
	logger *logger.Logger
	now    func() time.Time
}

// NewDocumentUseCase 创建文档用例
func NewDocumentUseCase(
	repo DocumentRepo,
	blobs BlobStore,
	quota *QuotaUseCase,
	pool *workerpool.Pool,
	policy *Policy,
	log *logger.Logger,
) *DocumentUseCase {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &DocumentUseCase{
		repo:   repo,
		blobs:  blobs,
		quota:  quota,
		pool:   pool,
		policy: policy,
		logger: log,
		now:    time.Now,
	}
}

// Policy 返回当前策略
func (uc *DocumentUseCase) Policy() *Policy {
	return uc.policy
}

// loadOwned 读取记录并校验归属；不属于调用者的记录按不存在处理
func (uc *DocumentUseCase) loadOwned(ctx context.Context, ownerID, id string) (*Document, error) {
	if ownerID == "" || id == "" {
		return nil, notFoundError(id)
	}
	doc, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, WrapError(ErrMetadataSaveFailed, err, "failed to load document %s", id)
	}
	if doc.OwnerID != ownerID {
		return nil, notFoundError(id)
	}
	return doc, nil
}

func pickVersion(expected int64, doc *Document) int64 {
	if expected > 0 {
		return expected
	}
	return doc.Version
}

// update 带版本条件的更新
func (uc *DocumentUseCase) update(ctx context.Context, doc *Document, expectedVersion int64, upd DocumentUpdate) (*Document, error) {
	updated, err := uc.repo.Update(ctx, doc.ID, pickVersion(expectedVersion, doc), upd)
	if err != nil {
		return nil, WrapError(ErrMetadataSaveFailed, err, "failed to update document %s", doc.ID)
	}
	return updated, nil
}

// Get 获取单个文档
func (uc *DocumentUseCase) Get(ctx context.Context, ownerID, id string) (*Document, error) {
	return uc.loadOwned(ctx, ownerID, id)
}

// View 列表视图
type View string

const (
	ViewDrive   View = "drive"
	ViewRecent  View = "recent"
	ViewStarred View = "starred"
	ViewTrash   View = "trash"
)

// ListDocumentsRequest 列表请求
type ListDocumentsRequest struct {
	View      View
	Category  string
	PatientID string
	Search    string
	Page      int
	PageSize  int
}

// List 按视图查询文档
func (uc *DocumentUseCase) List(ctx context.Context, ownerID string, req ListDocumentsRequest) ([]*Document, int64, error) {
	filter := DocumentFilter{
		Trashed:   TrashExclude,
		Category:  req.Category,
		PatientID: req.PatientID,
		Search:    strings.TrimSpace(req.Search),
		Page:      req.Page,
		PageSize:  req.PageSize,
	}

	switch req.View {
	case "", ViewDrive:
	case ViewRecent:
		after := uc.now().Add(-uc.policy.RecentWindow)
		filter.UploadedAfter = &after
	case ViewStarred:
		filter.StarredOnly = true
	case ViewTrash:
		filter.Trashed = TrashOnly
	default:
		return nil, 0, validationError("unknown view %q", req.View)
	}

	docs, total, err := uc.repo.Query(ctx, ownerID, filter)
	if err != nil {
		return nil, 0, WrapError(ErrMetadataSaveFailed, err, "failed to query documents")
	}
	return docs, total, nil
}

// Categories 返回配置的分类及每类文档数
func (uc *DocumentUseCase) Categories(ctx context.Context, ownerID string) ([]CategoryCount, error) {
	counts, err := uc.repo.CountCategories(ctx, ownerID)
	if err != nil {
		return nil, WrapError(ErrMetadataSaveFailed, err, "failed to count categories")
	}

	byKey := make(map[string]int64, len(counts))
	for _, c := range counts {
		byKey[c.Category] = c.Count
	}

	result := make([]CategoryCount, 0, len(uc.policy.Categories))
	for _, cat := range uc.policy.Categories {
		result = append(result, CategoryCount{Category: cat.Key, Label: cat.Label, Count: byKey[cat.Key]})
	}
	return result, nil
}

// UpdateMetadataRequest 元数据更新请求，nil 字段不修改
type UpdateMetadataRequest struct {
	Name            *string
	Category        *string
	Description     *string
	Tags            *[]string
	PatientID       *string
	ExpectedVersion int64
}

// UpdateMetadata 更新文档元数据
func (uc *DocumentUseCase) UpdateMetadata(ctx context.Context, ownerID, id string, req UpdateMetadataRequest) (*Document, error) {
	doc, err := uc.loadOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	var upd DocumentUpdate
	if req.Name != nil {
		name, err := uc.policy.validateName(*req.Name)
		if err != nil {
			return nil, err
		}
		upd.Name = &name
	}
	if req.Category != nil {
		cat, err := uc.policy.resolveCategory(*req.Category)
		if err != nil {
			return nil, err
		}
		upd.Category = &cat.Key
		upd.CategoryLabel = &cat.Label
	}
	if req.Description != nil {
		desc := strings.TrimSpace(*req.Description)
		upd.Description = &desc
	}
	if req.Tags != nil {
		tags, err := uc.policy.normalizeTags(*req.Tags)
		if err != nil {
			return nil, err
		}
		upd.Tags = &tags
	}
	if req.PatientID != nil {
		pid := strings.TrimSpace(*req.PatientID)
		upd.PatientID = &pid
	}

	updated, err := uc.update(ctx, doc, req.ExpectedVersion, upd)
	if err != nil {
		return nil, err
	}
	uc.logger.WithContext(ctx).Info("document metadata updated", zap.String("document_id", id), zap.Int64("version", updated.Version))
	return updated, nil
}

// Star 收藏；已收藏时保留原收藏时间
func (uc *DocumentUseCase) Star(ctx context.Context, ownerID, id string, expectedVersion int64) (*Document, error) {
	doc, err := uc.loadOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	starredAt := doc.StarredAt
	if !doc.IsStarred || starredAt == nil {
		now := uc.now()
		starredAt = &now
	}
	return uc.update(ctx, doc, expectedVersion, DocumentUpdate{
		Star: &StarState{IsStarred: true, StarredAt: starredAt},
	})
}

// Unstar 取消收藏
func (uc *DocumentUseCase) Unstar(ctx context.Context, ownerID, id string, expectedVersion int64) (*Document, error) {
	doc, err := uc.loadOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return uc.update(ctx, doc, expectedVersion, DocumentUpdate{
		Star: &StarState{IsStarred: false},
	})
}

// Trash 移入回收站，对象存储与配额不变
func (uc *DocumentUseCase) Trash(ctx context.Context, ownerID, id string, expectedVersion int64) (*Document, error) {
	doc, err := uc.loadOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	trashedAt := doc.TrashedAt
	if !doc.IsTrashed || trashedAt == nil {
		now := uc.now()
		trashedAt = &now
	}
	updated, err := uc.update(ctx, doc, expectedVersion, DocumentUpdate{
		Trash: &TrashState{IsTrashed: true, TrashedAt: trashedAt},
	})
	if err != nil {
		return nil, err
	}
	uc.logger.WithContext(ctx).Info("document trashed", zap.String("document_id", id))
	return updated, nil
}

// Restore 从回收站恢复
func (uc *DocumentUseCase) Restore(ctx context.Context, ownerID, id string, expectedVersion int64) (*Document, error) {
	doc, err := uc.loadOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	updated, err := uc.update(ctx, doc, expectedVersion, DocumentUpdate{
		Trash: &TrashState{IsTrashed: false},
	})
	if err != nil {
		return nil, err
	}
	uc.logger.WithContext(ctx).Info("document restored", zap.String("document_id", id))
	return updated, nil
}

// PermanentlyDelete 彻底删除：对象、记录、配额；唯一会减少配额的路径
func (uc *DocumentUseCase) PermanentlyDelete(ctx context.Context, ownerID, id string) error {
	doc, err := uc.loadOwned(ctx, ownerID, id)
	if err != nil {
		return err
	}
	return uc.purge(ctx, doc)
}

func (uc *DocumentUseCase) purge(ctx context.Context, doc *Document) error {
	uc.deleteBlob(ctx, doc)

	if err := uc.repo.Delete(ctx, doc.ID); err != nil {
		return WrapError(ErrMetadataSaveFailed, err, "failed to delete document %s", doc.ID)
	}
	return uc.release(ctx, doc)
}

// purgeExpired 先按快照条件删除记录，记录已被恢复或修改时不动对象和配额
func (uc *DocumentUseCase) purgeExpired(ctx context.Context, doc *Document, cutoff time.Time) (bool, error) {
	deleted, err := uc.repo.DeleteTrashedBefore(ctx, doc.ID, doc.Version, cutoff)
	if err != nil {
		return false, WrapError(ErrMetadataSaveFailed, err, "failed to delete document %s", doc.ID)
	}
	if !deleted {
		uc.logger.WithContext(ctx).Info("trashed document changed since listing, skipping purge",
			zap.String("document_id", doc.ID),
			zap.Int64("version", doc.Version),
		)
		return false, nil
	}

	uc.deleteBlob(ctx, doc)
	return true, uc.release(ctx, doc)
}

func (uc *DocumentUseCase) deleteBlob(ctx context.Context, doc *Document) {
	if err := uc.blobs.Delete(ctx, doc.BlobRef.ExternalID); err != nil {
		uc.logger.WithContext(ctx).Warn("failed to delete blob",
			zap.String("document_id", doc.ID),
			zap.String("external_id", doc.BlobRef.ExternalID),
			zap.Error(err),
		)
	}
}

func (uc *DocumentUseCase) release(ctx context.Context, doc *Document) error {
	if err := uc.quota.Remove(ctx, doc.OwnerID, doc.BlobRef.SizeBytes); err != nil {
		uc.logger.WithContext(ctx).Error("failed to release storage quota",
			zap.String("document_id", doc.ID),
			zap.String("owner_id", doc.OwnerID),
			zap.Int64("size_bytes", doc.BlobRef.SizeBytes),
			zap.Error(err),
		)
		return err
	}

	uc.logger.WithContext(ctx).Info("document permanently deleted",
		zap.String("document_id", doc.ID),
		zap.String("owner_id", doc.OwnerID),
		zap.Int64("size_bytes", doc.BlobRef.SizeBytes),
	)
	return nil
}

// PurgeTrashedBefore 清理早于 cutoff 的回收站文档，返回清理数量
func (uc *DocumentUseCase) PurgeTrashedBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	docs, err := uc.repo.ListTrashedBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, WrapError(ErrMetadataSaveFailed, err, "failed to list expired trash")
	}

	purged := 0
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		ok, err := uc.purgeExpired(ctx, doc, cutoff)
		if err != nil {
			uc.logger.WithContext(ctx).Warn("failed to purge trashed document", zap.String("document_id", doc.ID), zap.Error(err))
			continue
		}
		if ok {
			purged++
		}
	}
	return purged, nil
}
