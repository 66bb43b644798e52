package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/medora-backend/internal/auth/middleware"
	"github.com/lk2023060901/medora-backend/internal/document/biz"
	apperrors "github.com/lk2023060901/medora-backend/internal/pkg/errors"
	"github.com/lk2023060901/medora-backend/internal/pkg/logger"
	"github.com/lk2023060901/medora-backend/internal/pkg/metrics"
	"github.com/lk2023060901/medora-backend/internal/pkg/response"
	"go.uber.org/zap"
)

// DocumentManager 文档用例
type DocumentManager interface {
	Policy() *biz.Policy
	Upload(ctx context.Context, ownerID string, req biz.UploadDocumentRequest) (*biz.Document, error)
	PresignUpload(ctx context.Context, ownerID, fileName, contentType string) (*biz.PresignedUpload, error)
	ConfirmUpload(ctx context.Context, ownerID string, req biz.ConfirmUploadRequest) (*biz.Document, error)
	Get(ctx context.Context, ownerID, id string) (*biz.Document, error)
	List(ctx context.Context, ownerID string, req biz.ListDocumentsRequest) ([]*biz.Document, int64, error)
	Categories(ctx context.Context, ownerID string) ([]biz.CategoryCount, error)
	UpdateMetadata(ctx context.Context, ownerID, id string, req biz.UpdateMetadataRequest) (*biz.Document, error)
	Star(ctx context.Context, ownerID, id string, expectedVersion int64) (*biz.Document, error)
	Unstar(ctx context.Context, ownerID, id string, expectedVersion int64) (*biz.Document, error)
	Trash(ctx context.Context, ownerID, id string, expectedVersion int64) (*biz.Document, error)
	Restore(ctx context.Context, ownerID, id string, expectedVersion int64) (*biz.Document, error)
	PermanentlyDelete(ctx context.Context, ownerID, id string) error
	BulkRestore(ctx context.Context, ownerID string, ids []string) (*biz.BatchResult, error)
	BulkTrash(ctx context.Context, ownerID string, ids []string) (*biz.BatchResult, error)
	BulkDelete(ctx context.Context, ownerID string, ids []string) (*biz.BatchResult, error)
	EmptyTrash(ctx context.Context, ownerID string) (*biz.BatchResult, error)
}

// QuotaReader 存储用量查询
type QuotaReader interface {
	Get(ctx context.Context, ownerID string) (*biz.StorageLedger, error)
}

// DocumentService 文档 HTTP 接口
type DocumentService struct {
	docs     DocumentManager
	quota    QuotaReader
	shareURL func(shareID string) string
	logger   *zap.Logger
}

// NewDocumentService 创建文档服务
func NewDocumentService(docs DocumentManager, quota QuotaReader, shares ShareManager, logger *zap.Logger) *DocumentService {
	return &DocumentService{
		docs:     docs,
		quota:    quota,
		shareURL: shares.ShareURL,
		logger:   logger,
	}
}

// RegisterRoutes 注册需要认证的路由
func (s *DocumentService) RegisterRoutes(r *gin.RouterGroup) {
	docs := r.Group("/documents")
	{
		docs.POST("", s.Upload)
		docs.POST("/presign", s.Presign)
		docs.POST("/confirm", s.Confirm)
		docs.GET("", s.List)
		docs.GET("/categories", s.Categories)
		docs.POST("/batch/restore", s.BatchRestore)
		docs.POST("/batch/delete", s.BatchDelete)
		docs.POST("/batch/trash", s.BatchTrash)
		docs.GET("/:id", s.Get)
		docs.PATCH("/:id", s.Update)
		docs.DELETE("/:id", s.Delete)
		docs.POST("/:id/star", s.Star)
		docs.POST("/:id/unstar", s.Unstar)
		docs.POST("/:id/trash", s.Trash)
		docs.POST("/:id/restore", s.Restore)
	}
	r.DELETE("/trash", s.EmptyTrash)
	r.GET("/storage", s.Storage)
}

func ownerOf(c *gin.Context) (string, bool) {
	ownerID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "missing user")
	}
	return ownerID, ok
}

// parseIfMatch 读取 If-Match 中的版本号，缺省返回 0
func parseIfMatch(c *gin.Context) (int64, error) {
	v := strings.TrimSpace(c.GetHeader("If-Match"))
	if v == "" || v == "*" {
		return 0, nil
	}
	v = strings.Trim(strings.TrimPrefix(v, "W/"), `"`)
	version, err := strconv.ParseInt(v, 10, 64)
	if err != nil || version <= 0 {
		return 0, errors.New("If-Match must be a positive document version")
	}
	return version, nil
}

func (s *DocumentService) respondDocument(c *gin.Context, doc *biz.Document) {
	c.Header("ETag", strconv.Quote(strconv.FormatInt(doc.Version, 10)))
	response.Success(c, toDocumentResponse(doc, s.shareURL))
}

// uploadOutcome 上传结果的指标标签
func uploadOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, biz.ErrQuotaExceeded):
		metrics.IncQuotaRejection()
		return "quota_exceeded"
	case errors.Is(err, biz.ErrValidationFailed):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

// Upload 服务端中转上传（multipart：file + 元数据字段）
func (s *DocumentService) Upload(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}

	maxBytes := s.docs.Policy().MaxUploadBytes
	// multipart 包头留出余量，超限的文件内容交由用例判定
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+(1<<20))

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.ErrorWithCode(c, apperrors.ErrDocValidationFailed, "file exceeds the upload size limit")
			return
		}
		response.BadRequest(c, "invalid file or field name is not 'file'")
		return
	}
	var fields UploadFields
	if err := c.ShouldBind(&fields); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	file, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "failed to read file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		response.BadRequest(c, "failed to read file")
		return
	}

	doc, err := s.docs.Upload(c.Request.Context(), ownerID, biz.UploadDocumentRequest{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
		Metadata: biz.DocumentMetadata{
			Name:        fields.Name,
			Category:    fields.Category,
			Description: fields.Description,
			Tags:        fields.Tags,
			PatientID:   fields.PatientID,
		},
	})
	var size int64
	if doc != nil {
		size = doc.BlobRef.SizeBytes
	}
	metrics.ObserveUpload("direct", uploadOutcome(err), size)
	if err != nil {
		logger.For(c.Request.Context(), s.logger).Warn("upload failed",
			zap.String("file_name", fh.Filename),
			zap.Error(err))
		response.HandleError(c, err)
		return
	}

	c.Header("ETag", strconv.Quote(strconv.FormatInt(doc.Version, 10)))
	response.Created(c, toDocumentResponse(doc, s.shareURL))
}

// Presign 签发直传凭证
func (s *DocumentService) Presign(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}

	var req PresignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	p, err := s.docs.PresignUpload(c.Request.Context(), ownerID, req.FileName, req.ContentType)
	if err != nil {
		if errors.Is(err, biz.ErrQuotaExceeded) {
			metrics.IncQuotaRejection()
		}
		response.HandleError(c, err)
		return
	}

	response.Success(c, &PresignResponse{
		Method:     p.Method,
		URL:        p.URL,
		Fields:     p.Fields,
		ExternalID: p.ExternalID,
		ExpiresAt:  p.ExpiresAt,
	})
}

// Confirm 完成直传
func (s *DocumentService) Confirm(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}

	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	doc, err := s.docs.ConfirmUpload(c.Request.Context(), ownerID, biz.ConfirmUploadRequest{
		ExternalID: req.ExternalID,
		FileName:   req.FileName,
		Metadata: biz.DocumentMetadata{
			Name:        req.Name,
			Category:    req.Category,
			Description: req.Description,
			Tags:        req.Tags,
			PatientID:   req.PatientID,
		},
	})
	var size int64
	if doc != nil {
		size = doc.BlobRef.SizeBytes
	}
	metrics.ObserveUpload("presigned", uploadOutcome(err), size)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	c.Header("ETag", strconv.Quote(strconv.FormatInt(doc.Version, 10)))
	response.Created(c, toDocumentResponse(doc, s.shareURL))
}

// List 文档列表
func (s *DocumentService) List(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}

	var q ListDocumentsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	docs, total, err := s.docs.List(c.Request.Context(), ownerID, biz.ListDocumentsRequest{
		View:      biz.View(q.View),
		Category:  q.Category,
		PatientID: q.PatientID,
		Search:    q.Q,
		Page:      q.Page,
		PageSize:  q.PageSize,
	})
	if err != nil {
		response.HandleError(c, err)
		return
	}

	items := make([]*DocumentResponse, len(docs))
	for i, doc := range docs {
		items[i] = toDocumentResponse(doc, s.shareURL)
	}
	page, pageSize := q.Page, q.PageSize
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = len(items)
	}
	response.Page(c, items, total, page, pageSize)
}

// Categories 分类及数量
func (s *DocumentService) Categories(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}

	counts, err := s.docs.Categories(c.Request.Context(), ownerID)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	items := make([]CategoryResponse, len(counts))
	for i, cc := range counts {
		items[i] = CategoryResponse{Key: cc.Category, Label: cc.Label, Count: cc.Count}
	}
	response.Success(c, items)
}

// Get 文档详情
func (s *DocumentService) Get(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}

	doc, err := s.docs.Get(c.Request.Context(), ownerID, c.Param("id"))
	if err != nil {
		response.HandleError(c, err)
		return
	}
	s.respondDocument(c, doc)
}

// Update 更新元数据
func (s *DocumentService) Update(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}
	version, err := parseIfMatch(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var req UpdateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	doc, err := s.docs.UpdateMetadata(c.Request.Context(), ownerID, c.Param("id"), biz.UpdateMetadataRequest{
		Name:            req.Name,
		Category:        req.Category,
		Description:     req.Description,
		Tags:            req.Tags,
		PatientID:       req.PatientID,
		ExpectedVersion: version,
	})
	if err != nil {
		response.HandleError(c, err)
		return
	}
	s.respondDocument(c, doc)
}

type lifecycleFunc func(ctx context.Context, ownerID, id string, expectedVersion int64) (*biz.Document, error)

func (s *DocumentService) lifecycle(c *gin.Context, fn lifecycleFunc) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}
	version, err := parseIfMatch(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	doc, err := fn(c.Request.Context(), ownerID, c.Param("id"), version)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	s.respondDocument(c, doc)
}

func (s *DocumentService) Star(c *gin.Context)    { s.lifecycle(c, s.docs.Star) }
func (s *DocumentService) Unstar(c *gin.Context)  { s.lifecycle(c, s.docs.Unstar) }
func (s *DocumentService) Trash(c *gin.Context)   { s.lifecycle(c, s.docs.Trash) }
func (s *DocumentService) Restore(c *gin.Context) { s.lifecycle(c, s.docs.Restore) }

// Delete 永久删除
func (s *DocumentService) Delete(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}

	if err := s.docs.PermanentlyDelete(c.Request.Context(), ownerID, c.Param("id")); err != nil {
		response.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type batchFunc func(ctx context.Context, ownerID string, ids []string) (*biz.BatchResult, error)

func (s *DocumentService) batch(c *gin.Context, fn batchFunc) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}

	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := fn(c.Request.Context(), ownerID, req.DocumentIDs)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toBatchResponse(result))
}

func (s *DocumentService) BatchRestore(c *gin.Context) { s.batch(c, s.docs.BulkRestore) }
func (s *DocumentService) BatchDelete(c *gin.Context)  { s.batch(c, s.docs.BulkDelete) }
func (s *DocumentService) BatchTrash(c *gin.Context)   { s.batch(c, s.docs.BulkTrash) }

// EmptyTrash 清空回收站
func (s *DocumentService) EmptyTrash(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}

	result, err := s.docs.EmptyTrash(c.Request.Context(), ownerID)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toBatchResponse(result))
}

// Storage 存储用量
func (s *DocumentService) Storage(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}

	ledger, err := s.quota.Get(c.Request.Context(), ownerID)
	if err != nil {
		response.HandleError(c, apperrors.Wrap(err, apperrors.ErrInternalServer))
		return
	}
	response.Success(c, toStorageResponse(ledger))
}
