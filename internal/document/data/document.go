package data

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lk2023060901/medora-backend/internal/document/biz"
	"github.com/lk2023060901/medora-backend/internal/pkg/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentPO 文档数据库模型
type DocumentPO struct {
	ID               string     `gorm:"type:uuid;primarykey"`
	OwnerID          string     `gorm:"column:owner_id;size:128;not null;index:idx_documents_owner_uploaded,priority:1"`
	Name             string     `gorm:"column:name;size:255;not null"`
	Category         string     `gorm:"column:category;size:64;not null;index:idx_documents_category"`
	CategoryLabel    string     `gorm:"column:category_label;size:128;not null"`
	Description      string     `gorm:"column:description;type:text"`
	Tags             []string   `gorm:"column:tags;serializer:json;type:jsonb"`
	PatientID        string     `gorm:"column:patient_id;size:128;index:idx_documents_patient_id"`
	FileName         string     `gorm:"column:file_name;size:255;not null"`
	FileSize         int64      `gorm:"column:file_size;not null"`
	MimeType         string     `gorm:"column:mime_type;size:100;not null"`
	FileTypeCategory string     `gorm:"column:file_type_category;size:20;not null"`
	BlobExternalID   string     `gorm:"column:blob_external_id;size:500;not null;uniqueIndex:idx_documents_blob_external_id"`
	BlobURL          string     `gorm:"column:blob_url;type:text;not null"`
	ThumbnailURL     string     `gorm:"column:thumbnail_url;type:text"`
	BlobFormat       string     `gorm:"column:blob_format;size:20"`
	BlobSize         int64      `gorm:"column:blob_size;not null"`
	IsStarred        bool       `gorm:"column:is_starred;not null;default:false"`
	StarredAt        *time.Time `gorm:"column:starred_at"`
	IsTrashed        bool       `gorm:"column:is_trashed;not null;default:false;index:idx_documents_trashed_at,priority:1"`
	TrashedAt        *time.Time `gorm:"column:trashed_at;index:idx_documents_trashed_at,priority:2"`
	Share            SharePO    `gorm:"embedded;embeddedPrefix:share_"`
	UploadedAt       time.Time  `gorm:"column:uploaded_at;not null;index:idx_documents_owner_uploaded,priority:2"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;not null"`
	Version          int64      `gorm:"column:version;not null;default:1"`
}

func (DocumentPO) TableName() string {
	return "documents"
}

// SharePO 分享设置，share_id 为空表示未分享
type SharePO struct {
	ID              *string            `gorm:"column:id;size:64;uniqueIndex:idx_documents_share_id"`
	AccessLevel     string             `gorm:"column:access_level;size:20"`
	RequirePassword bool               `gorm:"column:require_password;not null;default:false"`
	PasswordHash    string             `gorm:"column:password_hash;size:100"`
	ExpiresAt       *time.Time         `gorm:"column:expires_at"`
	ViewCount       int64              `gorm:"column:view_count;not null;default:0"`
	DownloadCount   int64              `gorm:"column:download_count;not null;default:0"`
	SharedWith      []biz.Collaborator `gorm:"column:shared_with;serializer:json;type:jsonb"`
	LinkCreatedAt   *time.Time         `gorm:"column:created_at"`
}

// DocumentRepo 文档仓储实现
type DocumentRepo struct {
	db  *database.DB
	now func() time.Time
}

// NewDocumentRepo 创建文档仓储
func NewDocumentRepo(db *database.DB) *DocumentRepo {
	return &DocumentRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *DocumentRepo) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).GetDB()
}

// Create 创建文档记录，分配 id、时间戳与初始版本
func (r *DocumentRepo) Create(ctx context.Context, doc *biz.Document) error {
	if doc.OwnerID == "" {
		return biz.NewError(biz.ErrValidationFailed, "owner id is required")
	}
	if doc.FileInfo.Name == "" || doc.FileInfo.SizeBytes <= 0 || doc.FileInfo.MimeType == "" {
		return biz.NewError(biz.ErrValidationFailed, "file info is incomplete")
	}
	if doc.BlobRef.ExternalID == "" || doc.BlobRef.SizeBytes <= 0 {
		return biz.NewError(biz.ErrValidationFailed, "blob reference is incomplete")
	}

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := r.now()
	doc.UploadedAt = now
	doc.UpdatedAt = now
	doc.Version = 1

	po := toPO(doc)
	if err := r.conn(ctx).Create(po).Error; err != nil {
		if database.IsDuplicateKeyError(err) {
			return biz.NewError(biz.ErrConflict, "blob %s is already referenced", doc.BlobRef.ExternalID)
		}
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取文档
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*biz.Document, error) {
	if !validID(id) {
		return nil, biz.NewError(biz.ErrNotFound, "document %s not found", id)
	}

	var po DocumentPO
	if err := r.conn(ctx).Where("id = ?", id).First(&po).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, biz.NewError(biz.ErrNotFound, "document %s not found", id)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return toDomain(&po), nil
}

// Query 按条件查询所有者的文档
func (r *DocumentRepo) Query(ctx context.Context, ownerID string, filter biz.DocumentFilter) ([]*biz.Document, int64, error) {
	db := r.conn(ctx).Model(&DocumentPO{}).Where("owner_id = ?", ownerID)

	switch filter.Trashed {
	case biz.TrashOnly:
		db = db.Where("is_trashed = ?", true)
	case biz.TrashAny:
	default:
		db = db.Where("is_trashed = ?", false)
	}

	db = db.Scopes(
		database.WhereIf(filter.StarredOnly, "is_starred = ?", true),
		database.WhereIf(filter.Category != "", "category = ?", filter.Category),
		database.WhereIf(filter.PatientID != "", "patient_id = ?", filter.PatientID),
		database.WhereIf(filter.Search != "", "name ILIKE ?", "%"+escapeLike(filter.Search)+"%"),
		database.WhereIf(filter.UploadedAfter != nil, "uploaded_at > ?", filter.UploadedAfter),
	)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	var pos []DocumentPO
	err := db.Order(queryOrder(filter)).
		Order("id").
		Scopes(database.Paginate(filter.Page, filter.PageSize)).
		Find(&pos).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query documents: %w", err)
	}

	docs := make([]*biz.Document, len(pos))
	for i := range pos {
		docs[i] = toDomain(&pos[i])
	}
	return docs, total, nil
}

// queryOrder 回收站按删除时间、收藏按收藏时间、其余按上传时间倒序
func queryOrder(filter biz.DocumentFilter) string {
	switch {
	case filter.Trashed == biz.TrashOnly:
		return "trashed_at DESC"
	case filter.StarredOnly:
		return "starred_at DESC"
	default:
		return "uploaded_at DESC"
	}
}

// Update 带版本条件的定向更新
func (r *DocumentRepo) Update(ctx context.Context, id string, expectedVersion int64, upd biz.DocumentUpdate) (*biz.Document, error) {
	if !validID(id) {
		return nil, biz.NewError(biz.ErrNotFound, "document %s not found", id)
	}
	values, err := updateColumns(upd)
	if err != nil {
		return nil, err
	}
	values["updated_at"] = r.now()
	values["version"] = gorm.Expr("version + 1")

	var po DocumentPO
	res := r.conn(ctx).Model(&po).
		Clauses(clause.Returning{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(values)
	if res.Error != nil {
		if database.IsDuplicateKeyError(res.Error) {
			return nil, biz.NewError(biz.ErrConflict, "share id collision")
		}
		return nil, fmt.Errorf("failed to update document: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		var count int64
		if err := r.conn(ctx).Model(&DocumentPO{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to check document existence: %w", err)
		}
		if count == 0 {
			return nil, biz.NewError(biz.ErrNotFound, "document %s not found", id)
		}
		return nil, biz.NewError(biz.ErrConflict, "document %s was modified, expected version %d", id, expectedVersion)
	}
	return toDomain(&po), nil
}

// updateColumns 将定向更新转换为列赋值；json 列需要手动序列化
func updateColumns(upd biz.DocumentUpdate) (map[string]interface{}, error) {
	values := map[string]interface{}{}
	if upd.Name != nil {
		values["name"] = *upd.Name
	}
	if upd.Category != nil {
		values["category"] = *upd.Category
	}
	if upd.CategoryLabel != nil {
		values["category_label"] = *upd.CategoryLabel
	}
	if upd.Description != nil {
		values["description"] = *upd.Description
	}
	if upd.Tags != nil {
		tags, err := jsonColumn(*upd.Tags)
		if err != nil {
			return nil, err
		}
		values["tags"] = tags
	}
	if upd.PatientID != nil {
		values["patient_id"] = *upd.PatientID
	}
	if upd.Star != nil {
		values["is_starred"] = upd.Star.IsStarred
		values["starred_at"] = starredAtValue(upd.Star)
	}
	if upd.Trash != nil {
		values["is_trashed"] = upd.Trash.IsTrashed
		values["trashed_at"] = trashedAtValue(upd.Trash)
	}

	switch {
	case upd.Share != nil:
		shared, err := jsonColumn(upd.Share.SharedWith)
		if err != nil {
			return nil, err
		}
		values["share_id"] = upd.Share.ShareID
		values["share_access_level"] = string(upd.Share.AccessLevel)
		values["share_require_password"] = upd.Share.RequirePassword
		values["share_password_hash"] = upd.Share.PasswordHash
		values["share_expires_at"] = upd.Share.ExpiresAt
		values["share_shared_with"] = shared
		values["share_created_at"] = upd.Share.CreatedAt
		if upd.ResetShareCounters {
			values["share_view_count"] = 0
			values["share_download_count"] = 0
		}
	case upd.ClearShare:
		values["share_id"] = nil
		values["share_access_level"] = ""
		values["share_require_password"] = false
		values["share_password_hash"] = ""
		values["share_expires_at"] = nil
		values["share_view_count"] = 0
		values["share_download_count"] = 0
		values["share_shared_with"] = nil
		values["share_created_at"] = nil
	}
	return values, nil
}

// starredAtValue 取消收藏时强制清空时间
func starredAtValue(s *biz.StarState) *time.Time {
	if !s.IsStarred {
		return nil
	}
	return s.StarredAt
}

func trashedAtValue(s *biz.TrashState) *time.Time {
	if !s.IsTrashed {
		return nil
	}
	return s.TrashedAt
}

func jsonColumn(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal json column: %w", err)
	}
	return string(b), nil
}

// Delete 物理删除
func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return biz.NewError(biz.ErrNotFound, "document %s not found", id)
	}
	res := r.conn(ctx).Where("id = ?", id).Delete(&DocumentPO{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete document: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return biz.NewError(biz.ErrNotFound, "document %s not found", id)
	}
	return nil
}

// DeleteTrashedBefore 条件删除；记录已恢复或版本变化时不删除
func (r *DocumentRepo) DeleteTrashedBefore(ctx context.Context, id string, version int64, cutoff time.Time) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	res := r.conn(ctx).
		Where("id = ? AND version = ? AND is_trashed = ? AND trashed_at < ?", id, version, true, cutoff).
		Delete(&DocumentPO{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete trashed document: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetByShareID 根据分享 token 获取未删除的文档
func (r *DocumentRepo) GetByShareID(ctx context.Context, shareID string) (*biz.Document, error) {
	var po DocumentPO
	err := r.conn(ctx).
		Where("share_id = ? AND is_trashed = ?", shareID, false).
		First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, biz.NewError(biz.ErrNotFound, "share link not found")
		}
		return nil, fmt.Errorf("failed to get shared document: %w", err)
	}
	return toDomain(&po), nil
}

// IncrementShareViews 浏览计数加一，不修改版本号
func (r *DocumentRepo) IncrementShareViews(ctx context.Context, shareID string) (int64, error) {
	return r.incrementCounter(ctx, shareID, "share_view_count")
}

// IncrementShareDownloads 下载计数加一，不修改版本号
func (r *DocumentRepo) IncrementShareDownloads(ctx context.Context, shareID string) (int64, error) {
	return r.incrementCounter(ctx, shareID, "share_download_count")
}

func (r *DocumentRepo) incrementCounter(ctx context.Context, shareID, column string) (int64, error) {
	var po DocumentPO
	res := r.conn(ctx).Model(&po).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: column}}}).
		Where("share_id = ?", shareID).
		UpdateColumn(column, gorm.Expr(column+" + 1"))
	if res.Error != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", column, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, biz.NewError(biz.ErrNotFound, "share link not found")
	}

	if column == "share_view_count" {
		return po.Share.ViewCount, nil
	}
	return po.Share.DownloadCount, nil
}

// ListTrashedBefore 列出删除时间早于 cutoff 的文档，最早的在前
func (r *DocumentRepo) ListTrashedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*biz.Document, error) {
	var pos []DocumentPO
	err := r.conn(ctx).
		Where("is_trashed = ? AND trashed_at < ?", true, cutoff).
		Order("trashed_at ASC").
		Limit(limit).
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trashed documents: %w", err)
	}

	docs := make([]*biz.Document, len(pos))
	for i := range pos {
		docs[i] = toDomain(&pos[i])
	}
	return docs, nil
}

// CountCategories 按分类统计未删除文档
func (r *DocumentRepo) CountCategories(ctx context.Context, ownerID string) ([]biz.CategoryCount, error) {
	var rows []struct {
		Category string
		Count    int64
	}
	err := r.conn(ctx).Model(&DocumentPO{}).
		Select("category, COUNT(*) AS count").
		Where("owner_id = ? AND is_trashed = ?", ownerID, false).
		Group("category").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count categories: %w", err)
	}

	counts := make([]biz.CategoryCount, len(rows))
	for i, row := range rows {
		counts[i] = biz.CategoryCount{Category: row.Category, Count: row.Count}
	}
	return counts, nil
}

func toPO(doc *biz.Document) *DocumentPO {
	po := &DocumentPO{
		ID:               doc.ID,
		OwnerID:          doc.OwnerID,
		Name:             doc.Name,
		Category:         doc.Category,
		CategoryLabel:    doc.CategoryLabel,
		Description:      doc.Description,
		Tags:             doc.Tags,
		PatientID:        doc.PatientID,
		FileName:         doc.FileInfo.Name,
		FileSize:         doc.FileInfo.SizeBytes,
		MimeType:         doc.FileInfo.MimeType,
		FileTypeCategory: string(doc.FileInfo.FileTypeCategory),
		BlobExternalID:   doc.BlobRef.ExternalID,
		BlobURL:          doc.BlobRef.URL,
		ThumbnailURL:     doc.BlobRef.ThumbnailURL,
		BlobFormat:       doc.BlobRef.Format,
		BlobSize:         doc.BlobRef.SizeBytes,
		IsStarred:        doc.IsStarred,
		StarredAt:        doc.StarredAt,
		IsTrashed:        doc.IsTrashed,
		TrashedAt:        doc.TrashedAt,
		UploadedAt:       doc.UploadedAt,
		UpdatedAt:        doc.UpdatedAt,
		Version:          doc.Version,
	}
	if po.Tags == nil {
		po.Tags = []string{}
	}
	if s := doc.Share; s != nil {
		shareID := s.ShareID
		createdAt := s.CreatedAt
		po.Share = SharePO{
			ID:              &shareID,
			AccessLevel:     string(s.AccessLevel),
			RequirePassword: s.RequirePassword,
			PasswordHash:    s.PasswordHash,
			ExpiresAt:       s.ExpiresAt,
			ViewCount:       s.ViewCount,
			DownloadCount:   s.DownloadCount,
			SharedWith:      s.SharedWith,
			LinkCreatedAt:   &createdAt,
		}
	}
	return po
}

func toDomain(po *DocumentPO) *biz.Document {
	doc := &biz.Document{
		ID:            po.ID,
		OwnerID:       po.OwnerID,
		Name:          po.Name,
		Category:      po.Category,
		CategoryLabel: po.CategoryLabel,
		Description:   po.Description,
		Tags:          po.Tags,
		PatientID:     po.PatientID,
		FileInfo: biz.FileInfo{
			Name:             po.FileName,
			SizeBytes:        po.FileSize,
			MimeType:         po.MimeType,
			FileTypeCategory: biz.FileTypeCategory(po.FileTypeCategory),
		},
		BlobRef: biz.BlobRef{
			ExternalID:   po.BlobExternalID,
			URL:          po.BlobURL,
			ThumbnailURL: po.ThumbnailURL,
			Format:       po.BlobFormat,
			SizeBytes:    po.BlobSize,
		},
		IsStarred:  po.IsStarred,
		StarredAt:  po.StarredAt,
		IsTrashed:  po.IsTrashed,
		TrashedAt:  po.TrashedAt,
		UploadedAt: po.UploadedAt,
		UpdatedAt:  po.UpdatedAt,
		Version:    po.Version,
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}

	if s := po.Share; s.ID != nil && *s.ID != "" {
		settings := &biz.ShareSettings{
			ShareID:         *s.ID,
			AccessLevel:     biz.AccessLevel(s.AccessLevel),
			RequirePassword: s.RequirePassword,
			PasswordHash:    s.PasswordHash,
			ExpiresAt:       s.ExpiresAt,
			ViewCount:       s.ViewCount,
			DownloadCount:   s.DownloadCount,
			SharedWith:      s.SharedWith,
		}
		if s.LinkCreatedAt != nil {
			settings.CreatedAt = *s.LinkCreatedAt
		}
		if settings.SharedWith == nil {
			settings.SharedWith = []biz.Collaborator{}
		}
		doc.Share = settings
	}
	return doc
}

// validID id 列为 uuid 类型，非法值直接视为不存在
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// escapeLike 转义 LIKE 通配符
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ biz.DocumentRepo = (*DocumentRepo)(nil)
