package service

import (
	"time"

	"github.com/lk2023060901/medora-backend/internal/document/biz"
)

// FileInfoResponse 文件信息
type FileInfoResponse struct {
	Name             string `json:"name"`
	SizeBytes        int64  `json:"size_bytes"`
	MimeType         string `json:"mime_type"`
	FileTypeCategory string `json:"file_type_category"`
}

// BlobRefResponse 存储引用
type BlobRefResponse struct {
	ExternalID   string `json:"external_id"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Format       string `json:"format"`
	SizeBytes    int64  `json:"size_bytes"`
}

// CollaboratorDTO 协作者
type CollaboratorDTO struct {
	Email       string     `json:"email" binding:"required,email"`
	AccessLevel string     `json:"access_level"`
	SharedAt    *time.Time `json:"shared_at,omitempty"`
}

// ShareSettingsResponse 所有者可见的分享设置，不含密码哈希
type ShareSettingsResponse struct {
	ShareID         string            `json:"share_id"`
	URL             string            `json:"url"`
	AccessLevel     string            `json:"access_level"`
	RequirePassword bool              `json:"require_password"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	ViewCount       int64             `json:"view_count"`
	DownloadCount   int64             `json:"download_count"`
	SharedWith      []CollaboratorDTO `json:"shared_with"`
	CreatedAt       time.Time         `json:"created_at"`
}

// DocumentResponse 文档响应
type DocumentResponse struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Category      string                 `json:"category"`
	CategoryLabel string                 `json:"category_label"`
	Description   string                 `json:"description"`
	Tags          []string               `json:"tags"`
	PatientID     string                 `json:"patient_id,omitempty"`
	FileInfo      FileInfoResponse       `json:"file_info"`
	BlobRef       BlobRefResponse        `json:"blob_ref"`
	IsStarred     bool                   `json:"is_starred"`
	StarredAt     *time.Time             `json:"starred_at,omitempty"`
	IsTrashed     bool                   `json:"is_trashed"`
	TrashedAt     *time.Time             `json:"trashed_at,omitempty"`
	Share         *ShareSettingsResponse `json:"share,omitempty"`
	UploadedAt    time.Time              `json:"uploaded_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Version       int64                  `json:"version"`
}

// UploadFields multipart 上传的附加字段
type UploadFields struct {
	Name        string   `form:"name"`
	Category    string   `form:"category"`
	Description string   `form:"description"`
	Tags        []string `form:"tags"`
	PatientID   string   `form:"patient_id"`
}

// PresignRequest 直传预签名请求
type PresignRequest struct {
	FileName    string `json:"file_name" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// PresignResponse 直传凭证
type PresignResponse struct {
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	Fields     map[string]string `json:"fields"`
	ExternalID string            `json:"external_id"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// ConfirmRequest 直传完成确认
type ConfirmRequest struct {
	ExternalID  string   `json:"external_id" binding:"required"`
	FileName    string   `json:"file_name"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	PatientID   string   `json:"patient_id"`
}

// ListDocumentsQuery 列表查询参数
type ListDocumentsQuery struct {
	View      string `form:"view"`
	Category  string `form:"category"`
	PatientID string `form:"patient_id"`
	Q         string `form:"q"`
	Page      int    `form:"page" binding:"omitempty,min=1"`
	PageSize  int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// UpdateDocumentRequest 元数据更新，未传字段不修改
type UpdateDocumentRequest struct {
	Name        *string   `json:"name"`
	Category    *string   `json:"category"`
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
	PatientID   *string   `json:"patient_id"`
}

// BatchRequest 批量操作请求
type BatchRequest struct {
	DocumentIDs []string `json:"document_ids" binding:"required,min=1"`
}

// BatchFailureResponse 批量失败条目
type BatchFailureResponse struct {
	DocumentID string `json:"document_id"`
	Error      string `json:"error"`
	Code       int    `json:"code"`
}

// BatchResponse 批量操作结果
type BatchResponse struct {
	TotalCount   int                    `json:"total_count"`
	SuccessCount int                    `json:"success_count"`
	FailedCount  int                    `json:"failed_count"`
	FailedItems  []BatchFailureResponse `json:"failed_items"`
}

// CategoryResponse 分类统计
type CategoryResponse struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// StorageResponse 存储用量
type StorageResponse struct {
	TotalBytes      int64   `json:"total_bytes"`
	TotalFiles      int64   `json:"total_files"`
	QuotaBytes      int64   `json:"quota_bytes"`
	AvailableBytes  int64   `json:"available_bytes"`
	QuotaPercentage float64 `json:"quota_percentage"`
	QuotaExceeded   bool    `json:"quota_exceeded"`
}

// CreateShareRequest 创建分享链接
type CreateShareRequest struct {
	AccessLevel     string            `json:"access_level"`
	ExpiresAt       *time.Time        `json:"expires_at"`
	RequirePassword bool              `json:"require_password"`
	Password        string            `json:"password"`
	SharedWith      []CollaboratorDTO `json:"shared_with" binding:"dive"`
}

// ShareLinkResponse 分享链接
type ShareLinkResponse struct {
	ShareID         string     `json:"share_id"`
	URL             string     `json:"url"`
	AccessLevel     string     `json:"access_level"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	RequirePassword bool       `json:"require_password"`
	CreatedAt       time.Time  `json:"created_at"`
}

// PublicViewResponse 公开访问视图，不含任何密码信息
type PublicViewResponse struct {
	ShareID         string           `json:"share_id"`
	Name            string           `json:"name"`
	Category        string           `json:"category"`
	CategoryLabel   string           `json:"category_label"`
	Description     string           `json:"description"`
	FileInfo        FileInfoResponse `json:"file_info"`
	AccessLevel     string           `json:"access_level"`
	RequirePassword bool             `json:"require_password"`
	ExpiresAt       *time.Time       `json:"expires_at,omitempty"`
	ViewCount       int64            `json:"view_count"`
	DownloadCount   int64            `json:"download_count"`
	UploadedAt      time.Time        `json:"uploaded_at"`
	CanDownload     bool             `json:"can_download"`
}

// VerifyPasswordRequest 分享密码校验
type VerifyPasswordRequest struct {
	Password string `json:"password"`
}

func toFileInfoResponse(fi biz.FileInfo) FileInfoResponse {
	return FileInfoResponse{
		Name:             fi.Name,
		SizeBytes:        fi.SizeBytes,
		MimeType:         fi.MimeType,
		FileTypeCategory: string(fi.FileTypeCategory),
	}
}

func toCollaboratorDTOs(list []biz.Collaborator) []CollaboratorDTO {
	out := make([]CollaboratorDTO, len(list))
	for i, c := range list {
		sharedAt := c.SharedAt
		out[i] = CollaboratorDTO{Email: c.Email, AccessLevel: string(c.AccessLevel), SharedAt: &sharedAt}
	}
	return out
}

func fromCollaboratorDTOs(list []CollaboratorDTO) []biz.Collaborator {
	out := make([]biz.Collaborator, len(list))
	for i, c := range list {
		out[i] = biz.Collaborator{Email: c.Email, AccessLevel: biz.AccessLevel(c.AccessLevel)}
		if c.SharedAt != nil {
			out[i].SharedAt = *c.SharedAt
		}
	}
	return out
}

func toShareSettingsResponse(s *biz.ShareSettings, url string) *ShareSettingsResponse {
	if s == nil {
		return nil
	}
	return &ShareSettingsResponse{
		ShareID:         s.ShareID,
		URL:             url,
		AccessLevel:     string(s.AccessLevel),
		RequirePassword: s.RequirePassword,
		ExpiresAt:       s.ExpiresAt,
		ViewCount:       s.ViewCount,
		DownloadCount:   s.DownloadCount,
		SharedWith:      toCollaboratorDTOs(s.SharedWith),
		CreatedAt:       s.CreatedAt,
	}
}

func toDocumentResponse(doc *biz.Document, shareURL func(string) string) *DocumentResponse {
	resp := &DocumentResponse{
		ID:            doc.ID,
		Name:          doc.Name,
		Category:      doc.Category,
		CategoryLabel: doc.CategoryLabel,
		Description:   doc.Description,
		Tags:          doc.Tags,
		PatientID:     doc.PatientID,
		FileInfo:      toFileInfoResponse(doc.FileInfo),
		BlobRef: BlobRefResponse{
			ExternalID:   doc.BlobRef.ExternalID,
			URL:          doc.BlobRef.URL,
			ThumbnailURL: doc.BlobRef.ThumbnailURL,
			Format:       doc.BlobRef.Format,
			SizeBytes:    doc.BlobRef.SizeBytes,
		},
		IsStarred:  doc.IsStarred,
		StarredAt:  doc.StarredAt,
		IsTrashed:  doc.IsTrashed,
		TrashedAt:  doc.TrashedAt,
		UploadedAt: doc.UploadedAt,
		UpdatedAt:  doc.UpdatedAt,
		Version:    doc.Version,
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	if doc.Share != nil {
		resp.Share = toShareSettingsResponse(doc.Share, shareURL(doc.Share.ShareID))
	}
	return resp
}

func toBatchResponse(r *biz.BatchResult) *BatchResponse {
	resp := &BatchResponse{
		TotalCount:   r.TotalCount,
		SuccessCount: r.SuccessCount,
		FailedCount:  r.FailedCount,
		FailedItems:  make([]BatchFailureResponse, len(r.FailedItems)),
	}
	for i, f := range r.FailedItems {
		resp.FailedItems[i] = BatchFailureResponse{DocumentID: f.DocumentID, Error: f.Error, Code: f.Code}
	}
	return resp
}

func toStorageResponse(l *biz.StorageLedger) *StorageResponse {
	return &StorageResponse{
		TotalBytes:      l.TotalBytes,
		TotalFiles:      l.TotalFiles,
		QuotaBytes:      l.QuotaBytes,
		AvailableBytes:  l.AvailableBytes(),
		QuotaPercentage: l.QuotaPercentage(),
		QuotaExceeded:   l.QuotaExceeded(),
	}
}

func toShareLinkResponse(l *biz.ShareLink) *ShareLinkResponse {
	return &ShareLinkResponse{
		ShareID:         l.ShareID,
		URL:             l.URL,
		AccessLevel:     string(l.AccessLevel),
		ExpiresAt:       l.ExpiresAt,
		RequirePassword: l.RequirePassword,
		CreatedAt:       l.CreatedAt,
	}
}

func toPublicViewResponse(v *biz.PublicView) *PublicViewResponse {
	return &PublicViewResponse{
		ShareID:         v.ShareID,
		Name:            v.Name,
		Category:        v.Category,
		CategoryLabel:   v.CategoryLabel,
		Description:     v.Description,
		FileInfo:        toFileInfoResponse(v.FileInfo),
		AccessLevel:     string(v.AccessLevel),
		RequirePassword: v.RequirePassword,
		ExpiresAt:       v.ExpiresAt,
		ViewCount:       v.ViewCount,
		DownloadCount:   v.DownloadCount,
		UploadedAt:      v.UploadedAt,
		CanDownload:     v.CanDownload,
	}
}
