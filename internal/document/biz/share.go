package biz

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/lk2023060901/medora-backend/internal/pkg/logger"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AccessLevel 分享访问级别
type AccessLevel string

const (
	AccessView       AccessLevel = "view"
	AccessDownload   AccessLevel = "download"
	AccessEdit       AccessLevel = "edit"
	AccessRestricted AccessLevel = "restricted"
)

// Valid 是否为合法的分享级别
func (a AccessLevel) Valid() bool {
	switch a {
	case AccessView, AccessDownload, AccessEdit, AccessRestricted:
		return true
	}
	return false
}

// AllowsDownload 是否允许下载原文件
func (a AccessLevel) AllowsDownload() bool {
	return a == AccessDownload || a == AccessEdit
}

// Collaborator 指定分享对象
type Collaborator struct {
	Email       string      `json:"email"`
	AccessLevel AccessLevel `json:"access_level"`
	SharedAt    time.Time   `json:"shared_at"`
}

// ShareSettings 文档分享设置
type ShareSettings struct {
	ShareID         string
	AccessLevel     AccessLevel
	RequirePassword bool
	PasswordHash    string
	ExpiresAt       *time.Time
	ViewCount       int64
	DownloadCount   int64
	SharedWith      []Collaborator
	CreatedAt       time.Time
}

// Expired 过期时间严格早于 now 时视为过期
func (s *ShareSettings) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && s.ExpiresAt.Before(now)
}

// Collaborator 按邮箱（不区分大小写）查找分享对象
func (s *ShareSettings) Collaborator(email string) (Collaborator, bool) {
	email = normalizeEmail(email)
	if email == "" {
		return Collaborator{}, false
	}
	for _, c := range s.SharedWith {
		if c.Email == email {
			return c, true
		}
	}
	return Collaborator{}, false
}

// ShareOptions 创建分享链接参数
type ShareOptions struct {
	AccessLevel     AccessLevel
	ExpiresAt       *time.Time
	RequirePassword bool
	Password        string
	SharedWith      []Collaborator
	ExpectedVersion int64
}

// ShareLink 创建分享链接结果
type ShareLink struct {
	ShareID         string
	URL             string
	AccessLevel     AccessLevel
	ExpiresAt       *time.Time
	RequirePassword bool
	CreatedAt       time.Time
}

// ShareAccess 访问分享时提供的凭据
type ShareAccess struct {
	Password    string
	ViewerEmail string
}

// PublicView 分享页展示的文档信息，不含任何密码材料
type PublicView struct {
	ShareID         string
	Name            string
	Category        string
	CategoryLabel   string
	Description     string
	FileInfo        FileInfo
	AccessLevel     AccessLevel
	RequirePassword bool
	ExpiresAt       *time.Time
	ViewCount       int64
	DownloadCount   int64
	UploadedAt      time.Time
	CanDownload     bool
}

// SharedContent 分享下载内容，调用方负责关闭 Reader
type SharedContent struct {
	Document *Document
	Reader   io.ReadCloser
	Info     *BlobInfo
}

// AttemptLimiter 分享密码尝试计数器；先计数再比较，并发猜测也不会超过上限
type AttemptLimiter interface {
	RecordAttempt(ctx context.Context, shareID string) (int64, error)
	Reset(ctx context.Context, shareID string) error
}

// ShareConfig 分享配置
type ShareConfig struct {
	BaseURL             string
	MaxPasswordAttempts int64
	BcryptCost          int
	QRCodeSize          int
}

// ShareUseCase 分享用例
type ShareUseCase struct {
	repo    DocumentRepo
	blobs   BlobStore
	limiter AttemptLimiter
	config  *ShareConfig
	logger  *logger.Logger
	now     func() time.Time
	compare func(hash, password []byte) error
}

// NewShareUseCase 创建分享用例
func NewShareUseCase(repo DocumentRepo, blobs BlobStore, limiter AttemptLimiter, cfg *ShareConfig, log *logger.Logger) *ShareUseCase {
	if cfg == nil {
		cfg = &ShareConfig{}
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.QRCodeSize <= 0 {
		cfg.QRCodeSize = 256
	}
	return &ShareUseCase{
		repo:    repo,
		blobs:   blobs,
		limiter: limiter,
		config:  cfg,
		logger:  log,
		now:     time.Now,
		compare: bcrypt.CompareHashAndPassword,
	}
}

// ShareURL 拼接公开访问地址
func (uc *ShareUseCase) ShareURL(shareID string) string {
	return strings.TrimRight(uc.config.BaseURL, "/") + "/share/" + shareID
}

func (uc *ShareUseCase) loadOwned(ctx context.Context, ownerID, id string) (*Document, error) {
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

// CreateShareLink 创建（或轮换）分享链接，计数清零
func (uc *ShareUseCase) CreateShareLink(ctx context.Context, ownerID, documentID string, opts ShareOptions) (*ShareLink, error) {
	doc, err := uc.loadOwned(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.IsTrashed {
		return nil, NewError(ErrNotFound, "document %s is in trash", documentID)
	}

	now := uc.now()
	level := opts.AccessLevel
	if level == "" {
		level = AccessView
	}
	if !level.Valid() {
		return nil, validationError("invalid access level %q", level)
	}
	if opts.ExpiresAt != nil && opts.ExpiresAt.Before(now) {
		return nil, validationError("expiration time is in the past")
	}
	if opts.RequirePassword && opts.Password == "" {
		return nil, validationError("password is required for protected shares")
	}

	sharedWith, err := normalizeCollaborators(opts.SharedWith, now)
	if err != nil {
		return nil, err
	}
	if level == AccessRestricted && len(sharedWith) == 0 {
		return nil, validationError("restricted shares need at least one collaborator")
	}

	token, err := newShareToken()
	if err != nil {
		return nil, WrapError(ErrMetadataSaveFailed, err, "failed to generate share token")
	}

	settings := &ShareSettings{
		ShareID:         token,
		AccessLevel:     level,
		RequirePassword: opts.RequirePassword,
		ExpiresAt:       opts.ExpiresAt,
		SharedWith:      sharedWith,
		CreatedAt:       now,
	}
	if opts.RequirePassword {
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), uc.config.BcryptCost)
		if err != nil {
			return nil, validationError("invalid password: %v", err)
		}
		settings.PasswordHash = string(hash)
	}

	if _, err := uc.repo.Update(ctx, doc.ID, pickVersion(opts.ExpectedVersion, doc), DocumentUpdate{
		Share:              settings,
		ResetShareCounters: true,
	}); err != nil {
		return nil, WrapError(ErrMetadataSaveFailed, err, "failed to save share settings")
	}

	uc.logger.WithContext(ctx).Info("share link created",
		zap.String("document_id", doc.ID),
		zap.String("access_level", string(level)),
		zap.Bool("require_password", opts.RequirePassword),
	)

	return &ShareLink{
		ShareID:         token,
		URL:             uc.ShareURL(token),
		AccessLevel:     level,
		ExpiresAt:       opts.ExpiresAt,
		RequirePassword: opts.RequirePassword,
		CreatedAt:       now,
	}, nil
}

// RevokeShareLink 撤销分享；未分享时为空操作
func (uc *ShareUseCase) RevokeShareLink(ctx context.Context, ownerID, documentID string, expectedVersion int64) error {
	doc, err := uc.loadOwned(ctx, ownerID, documentID)
	if err != nil {
		return err
	}
	if doc.Share == nil {
		return nil
	}
	if _, err := uc.repo.Update(ctx, doc.ID, pickVersion(expectedVersion, doc), DocumentUpdate{ClearShare: true}); err != nil {
		return WrapError(ErrMetadataSaveFailed, err, "failed to revoke share link")
	}
	uc.logger.WithContext(ctx).Info("share link revoked", zap.String("document_id", doc.ID))
	return nil
}

// AddCollaborator 添加或更新分享对象
func (uc *ShareUseCase) AddCollaborator(ctx context.Context, ownerID, documentID string, c Collaborator, expectedVersion int64) (*ShareSettings, error) {
	return uc.modifyCollaborators(ctx, ownerID, documentID, expectedVersion, func(list []Collaborator) ([]Collaborator, error) {
		return normalizeCollaborators(append(list, c), uc.now())
	})
}

// RemoveCollaborator 移除分享对象；不存在时为空操作
func (uc *ShareUseCase) RemoveCollaborator(ctx context.Context, ownerID, documentID, email string, expectedVersion int64) (*ShareSettings, error) {
	email = normalizeEmail(email)
	return uc.modifyCollaborators(ctx, ownerID, documentID, expectedVersion, func(list []Collaborator) ([]Collaborator, error) {
		out := make([]Collaborator, 0, len(list))
		for _, existing := range list {
			if existing.Email != email {
				out = append(out, existing)
			}
		}
		return out, nil
	})
}

func (uc *ShareUseCase) modifyCollaborators(
	ctx context.Context,
	ownerID, documentID string,
	expectedVersion int64,
	modify func([]Collaborator) ([]Collaborator, error),
) (*ShareSettings, error) {
	doc, err := uc.loadOwned(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Share == nil {
		return nil, NewError(ErrNotFound, "document %s is not shared", documentID)
	}

	list, err := modify(append([]Collaborator(nil), doc.Share.SharedWith...))
	if err != nil {
		return nil, err
	}
	if doc.Share.AccessLevel == AccessRestricted && len(list) == 0 {
		return nil, validationError("restricted shares need at least one collaborator")
	}

	settings := *doc.Share
	settings.SharedWith = list
	updated, err := uc.repo.Update(ctx, doc.ID, pickVersion(expectedVersion, doc), DocumentUpdate{Share: &settings})
	if err != nil {
		return nil, WrapError(ErrMetadataSaveFailed, err, "failed to save collaborators")
	}
	return updated.Share, nil
}

// ShareQRCode 生成分享链接二维码（PNG）
func (uc *ShareUseCase) ShareQRCode(ctx context.Context, ownerID, documentID string, size int) ([]byte, error) {
	doc, err := uc.loadOwned(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Share == nil {
		return nil, NewError(ErrNotFound, "document %s is not shared", documentID)
	}
	if size <= 0 {
		size = uc.config.QRCodeSize
	}
	if size > 1024 {
		return nil, validationError("qr code size must not exceed 1024")
	}

	png, err := qrcode.Encode(uc.ShareURL(doc.Share.ShareID), qrcode.Medium, size)
	if err != nil {
		return nil, WrapError(ErrMetadataSaveFailed, err, "failed to encode qr code")
	}
	return png, nil
}

// authorize 校验分享链接的存在、过期、密码与受限名单，返回有效访问级别
func (uc *ShareUseCase) authorize(ctx context.Context, shareID string, access ShareAccess) (*Document, AccessLevel, error) {
	doc, err := uc.lookup(ctx, shareID)
	if err != nil {
		return nil, "", err
	}
	settings := doc.Share
	if settings.Expired(uc.now()) {
		return nil, "", NewError(ErrExpired, "share link has expired")
	}

	if settings.RequirePassword {
		if access.Password == "" {
			return nil, "", NewError(ErrPasswordRequired, "password is required")
		}
		ok, err := uc.checkPassword(ctx, settings, access.Password)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			return nil, "", NewError(ErrPasswordRequired, "password is incorrect")
		}
	}

	level := settings.AccessLevel
	if level == AccessRestricted {
		c, ok := settings.Collaborator(access.ViewerEmail)
		if !ok {
			return nil, "", NewError(ErrShareForbidden, "viewer is not on the share list")
		}
		level = c.AccessLevel
	}
	return doc, level, nil
}

func (uc *ShareUseCase) lookup(ctx context.Context, shareID string) (*Document, error) {
	if shareID == "" {
		return nil, NewError(ErrNotFound, "share link not found")
	}
	doc, err := uc.repo.GetByShareID(ctx, shareID)
	if err != nil {
		return nil, WrapError(ErrMetadataSaveFailed, err, "failed to load share link")
	}
	if doc.Share == nil || doc.IsTrashed {
		return nil, NewError(ErrNotFound, "share link not found")
	}
	return doc, nil
}

// checkPassword 先原子计数再比较；超过阈值时不再比较，成功后清零
func (uc *ShareUseCase) checkPassword(ctx context.Context, settings *ShareSettings, candidate string) (bool, error) {
	limited := uc.limiter != nil && uc.config.MaxPasswordAttempts > 0
	if limited {
		attempts, err := uc.limiter.RecordAttempt(ctx, settings.ShareID)
		if err != nil {
			uc.logger.WithContext(ctx).Warn("failed to record share password attempt", zap.Error(err))
		} else if attempts > uc.config.MaxPasswordAttempts {
			return false, NewError(ErrPasswordThrottled, "try again later")
		}
	}

	if uc.compare([]byte(settings.PasswordHash), []byte(candidate)) != nil {
		return false, nil
	}

	if limited {
		if err := uc.limiter.Reset(ctx, settings.ShareID); err != nil {
			uc.logger.WithContext(ctx).Warn("failed to reset share password attempts", zap.Error(err))
		}
	}
	return true, nil
}

// GetSharedDocument 访问分享文档，成功时浏览次数加一
func (uc *ShareUseCase) GetSharedDocument(ctx context.Context, shareID string, access ShareAccess) (*PublicView, error) {
	doc, level, err := uc.authorize(ctx, shareID, access)
	if err != nil {
		return nil, err
	}

	views, err := uc.repo.IncrementShareViews(ctx, shareID)
	if err != nil {
		return nil, WrapError(ErrMetadataSaveFailed, err, "failed to record share view")
	}

	s := doc.Share
	return &PublicView{
		ShareID:         s.ShareID,
		Name:            doc.Name,
		Category:        doc.Category,
		CategoryLabel:   doc.CategoryLabel,
		Description:     doc.Description,
		FileInfo:        doc.FileInfo,
		AccessLevel:     s.AccessLevel,
		RequirePassword: s.RequirePassword,
		ExpiresAt:       s.ExpiresAt,
		ViewCount:       views,
		DownloadCount:   s.DownloadCount,
		UploadedAt:      doc.UploadedAt,
		CanDownload:     level.AllowsDownload(),
	}, nil
}

// VerifyPassword 校验分享密码；未知、过期或无密码的分享一律返回 false
func (uc *ShareUseCase) VerifyPassword(ctx context.Context, shareID, candidate string) bool {
	doc, err := uc.lookup(ctx, shareID)
	if err != nil {
		return false
	}
	s := doc.Share
	if !s.RequirePassword || s.Expired(uc.now()) {
		return false
	}
	ok, err := uc.checkPassword(ctx, s, candidate)
	return err == nil && ok
}

// TrackDownload 下载次数加一
func (uc *ShareUseCase) TrackDownload(ctx context.Context, shareID string) error {
	if _, err := uc.lookup(ctx, shareID); err != nil {
		return err
	}
	if _, err := uc.repo.IncrementShareDownloads(ctx, shareID); err != nil {
		return WrapError(ErrMetadataSaveFailed, err, "failed to record share download")
	}
	return nil
}

// OpenSharedDownload 校验下载权限后打开文件流并记录下载
func (uc *ShareUseCase) OpenSharedDownload(ctx context.Context, shareID string, access ShareAccess) (*SharedContent, error) {
	doc, level, err := uc.authorize(ctx, shareID, access)
	if err != nil {
		return nil, err
	}
	if !level.AllowsDownload() {
		return nil, NewError(ErrShareForbidden, "download is not allowed for this share")
	}

	rc, info, err := uc.blobs.Open(ctx, doc.BlobRef.ExternalID)
	if err != nil {
		return nil, WrapError(ErrUploadFailed, err, "failed to open shared file")
	}
	if _, err := uc.repo.IncrementShareDownloads(ctx, shareID); err != nil {
		rc.Close()
		return nil, WrapError(ErrMetadataSaveFailed, err, "failed to record share download")
	}

	uc.logger.WithContext(ctx).Info("shared document downloaded", zap.String("document_id", doc.ID))
	return &SharedContent{Document: doc, Reader: rc, Info: info}, nil
}

// newShareToken 生成 256 位随机 token
func newShareToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// parseEmail 解析地址并只保留小写的邮箱部分，显示名被丢弃
func parseEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(addr.Address), nil
}

func normalizeEmail(email string) string {
	if addr, err := parseEmail(email); err == nil {
		return addr
	}
	return strings.ToLower(strings.TrimSpace(email))
}

// normalizeCollaborators 按小写邮箱去重，后出现的条目覆盖先出现的
func normalizeCollaborators(list []Collaborator, now time.Time) ([]Collaborator, error) {
	index := make(map[string]int, len(list))
	out := make([]Collaborator, 0, len(list))
	for _, c := range list {
		email, err := parseEmail(c.Email)
		if err != nil {
			return nil, validationError("invalid collaborator email %q", c.Email)
		}
		level := c.AccessLevel
		if level == "" {
			level = AccessView
		}
		if !level.Valid() || level == AccessRestricted {
			return nil, validationError("invalid collaborator access level %q", level)
		}
		sharedAt := c.SharedAt
		if sharedAt.IsZero() {
			sharedAt = now
		}
		entry := Collaborator{Email: email, AccessLevel: level, SharedAt: sharedAt}
		if i, ok := index[email]; ok {
			out[i] = entry
			continue
		}
		index[email] = len(out)
		out = append(out, entry)
	}
	return out, nil
}
