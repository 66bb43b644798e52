package service

import (
	"context"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/medora-backend/internal/auth/middleware"
	"github.com/lk2023060901/medora-backend/internal/document/biz"
	"github.com/lk2023060901/medora-backend/internal/pkg/metrics"
	"github.com/lk2023060901/medora-backend/internal/pkg/response"
	"go.uber.org/zap"
)

// SharePasswordHeader 公开访问时携带分享密码的请求头
const SharePasswordHeader = "X-Share-Password"

// ShareManager 分享用例
type ShareManager interface {
	ShareURL(shareID string) string
	CreateShareLink(ctx context.Context, ownerID, documentID string, opts biz.ShareOptions) (*biz.ShareLink, error)
	RevokeShareLink(ctx context.Context, ownerID, documentID string, expectedVersion int64) error
	AddCollaborator(ctx context.Context, ownerID, documentID string, c biz.Collaborator, expectedVersion int64) (*biz.ShareSettings, error)
	RemoveCollaborator(ctx context.Context, ownerID, documentID, email string, expectedVersion int64) (*biz.ShareSettings, error)
	ShareQRCode(ctx context.Context, ownerID, documentID string, size int) ([]byte, error)
	GetSharedDocument(ctx context.Context, shareID string, access biz.ShareAccess) (*biz.PublicView, error)
	VerifyPassword(ctx context.Context, shareID, candidate string) bool
	OpenSharedDownload(ctx context.Context, shareID string, access biz.ShareAccess) (*biz.SharedContent, error)
}

// ShareService 分享 HTTP 接口
type ShareService struct {
	shares ShareManager
	logger *zap.Logger
}

// NewShareService 创建分享服务
func NewShareService(shares ShareManager, logger *zap.Logger) *ShareService {
	return &ShareService{shares: shares, logger: logger}
}

// RegisterRoutes authed 为认证路由组，public 为公开路由组
func (s *ShareService) RegisterRoutes(authed, public *gin.RouterGroup) {
	share := authed.Group("/documents/:id/share")
	{
		share.POST("", s.Create)
		share.DELETE("", s.Revoke)
		share.POST("/collaborators", s.AddCollaborator)
		share.DELETE("/collaborators/:email", s.RemoveCollaborator)
		share.GET("/qrcode", s.QRCode)
	}

	public.GET("/share/:shareId", s.View)
	public.POST("/share/:shareId/verify", s.Verify)
	public.GET("/share/:shareId/download", s.Download)
}

// Create 创建或轮换分享链接
func (s *ShareService) Create(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}
	version, err := parseIfMatch(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var req CreateShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	link, err := s.shares.CreateShareLink(c.Request.Context(), ownerID, c.Param("id"), biz.ShareOptions{
		AccessLevel:     biz.AccessLevel(req.AccessLevel),
		ExpiresAt:       req.ExpiresAt,
		RequirePassword: req.RequirePassword,
		Password:        req.Password,
		SharedWith:      fromCollaboratorDTOs(req.SharedWith),
		ExpectedVersion: version,
	})
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Created(c, toShareLinkResponse(link))
}

// Revoke 撤销分享
func (s *ShareService) Revoke(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}
	version, err := parseIfMatch(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := s.shares.RevokeShareLink(c.Request.Context(), ownerID, c.Param("id"), version); err != nil {
		response.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AddCollaborator 添加或更新协作者
func (s *ShareService) AddCollaborator(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}
	version, err := parseIfMatch(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var req CollaboratorDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	settings, err := s.shares.AddCollaborator(c.Request.Context(), ownerID, c.Param("id"),
		fromCollaboratorDTOs([]CollaboratorDTO{req})[0], version)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toShareSettingsResponse(settings, s.shares.ShareURL(settings.ShareID)))
}

// RemoveCollaborator 移除协作者
func (s *ShareService) RemoveCollaborator(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}
	version, err := parseIfMatch(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	settings, err := s.shares.RemoveCollaborator(c.Request.Context(), ownerID, c.Param("id"), c.Param("email"), version)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toShareSettingsResponse(settings, s.shares.ShareURL(settings.ShareID)))
}

// QRCode 分享链接二维码
func (s *ShareService) QRCode(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}

	size := 0
	if v := c.Query("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.BadRequest(c, "size must be a positive integer")
			return
		}
		size = n
	}

	png, err := s.shares.ShareQRCode(c.Request.Context(), ownerID, c.Param("id"), size)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func shareAccess(c *gin.Context) biz.ShareAccess {
	return biz.ShareAccess{
		Password:    c.GetHeader(SharePasswordHeader),
		ViewerEmail: middleware.GetEmail(c),
	}
}

// View 公开访问分享文档
func (s *ShareService) View(c *gin.Context) {
	view, err := s.shares.GetSharedDocument(c.Request.Context(), c.Param("shareId"), shareAccess(c))
	if err != nil {
		response.HandleError(c, err)
		return
	}
	metrics.IncShareView()
	c.Header("Cache-Control", "no-store")
	response.Success(c, toPublicViewResponse(view))
}

// Verify 校验分享密码
func (s *ShareService) Verify(c *gin.Context) {
	var req VerifyPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	valid := s.shares.VerifyPassword(c.Request.Context(), c.Param("shareId"), req.Password)
	response.Success(c, gin.H{"valid": valid})
}

// Download 公开下载
func (s *ShareService) Download(c *gin.Context) {
	content, err := s.shares.OpenSharedDownload(c.Request.Context(), c.Param("shareId"), shareAccess(c))
	if err != nil {
		response.HandleError(c, err)
		return
	}
	defer content.Reader.Close()
	metrics.IncShareDownload()

	contentType := content.Info.ContentType
	if contentType == "" {
		contentType = content.Document.FileInfo.MimeType
	}
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, content.Info.SizeBytes, contentType, content.Reader, map[string]string{
		"Content-Disposition": contentDisposition(content.Document.FileInfo.Name),
	})
}

func contentDisposition(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "attachment"
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}
