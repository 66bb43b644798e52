package biz

import (
	"context"
	"time"

	"github.com/lk2023060901/medora-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

// DefaultQuotaBytes 默认存储配额 1 GiB
const DefaultQuotaBytes int64 = 1 << 30

// StorageLedger 所有者存储账本
type StorageLedger struct {
	OwnerID    string
	TotalBytes int64
	TotalFiles int64
	QuotaBytes int64
	UpdatedAt  time.Time
}

// QuotaPercentage 已用百分比
func (l *StorageLedger) QuotaPercentage() float64 {
	if l.QuotaBytes <= 0 {
		return 0
	}
	return float64(l.TotalBytes) / float64(l.QuotaBytes) * 100
}

// AvailableBytes 剩余可用字节，不小于 0
func (l *StorageLedger) AvailableBytes() int64 {
	return max(l.QuotaBytes-l.TotalBytes, 0)
}

// QuotaExceeded 配额已用尽，任何非空上传都放不下
func (l *StorageLedger) QuotaExceeded() bool {
	return l.TotalBytes >= l.QuotaBytes
}

// Fits 判断追加 bytes 后是否仍在配额内
func (l *StorageLedger) Fits(bytes int64) bool {
	return l.TotalBytes+bytes <= l.QuotaBytes
}

// LedgerAddResult 记账结果
type LedgerAddResult struct {
	Success       bool
	NewTotal      int64
	QuotaExceeded bool
}

// LedgerRepo 账本存储接口，每个方法都是单条原子语句
type LedgerRepo interface {
	EnsureInitialized(ctx context.Context, ownerID string, quotaBytes int64) error
	Add(ctx context.Context, ownerID string, bytes int64) (*LedgerAddResult, error)
	Remove(ctx context.Context, ownerID string, bytes int64) error
	Get(ctx context.Context, ownerID string) (*StorageLedger, error)
}

// QuotaUseCase 存储配额用例
type QuotaUseCase struct {
	repo         LedgerRepo
	defaultQuota int64
	logger       *logger.Logger
}

// NewQuotaUseCase 创建配额用例
func NewQuotaUseCase(repo LedgerRepo, defaultQuota int64, log *logger.Logger) *QuotaUseCase {
	if defaultQuota <= 0 {
		defaultQuota = DefaultQuotaBytes
	}
	return &QuotaUseCase{repo: repo, defaultQuota: defaultQuota, logger: log}
}

// EnsureInitialized 首次使用时创建账本，已存在则不变
func (uc *QuotaUseCase) EnsureInitialized(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return validationError("owner id is required")
	}
	if err := uc.repo.EnsureInitialized(ctx, ownerID, uc.defaultQuota); err != nil {
		return WrapError(ErrMetadataSaveFailed, err, "failed to initialize storage ledger")
	}
	return nil
}

// Add 原子记账；超出配额时不修改账本并返回 QuotaExceeded 标记
func (uc *QuotaUseCase) Add(ctx context.Context, ownerID string, bytes int64) (*LedgerAddResult, error) {
	if bytes < 0 {
		return nil, validationError("byte count must not be negative")
	}
	if err := uc.EnsureInitialized(ctx, ownerID); err != nil {
		return nil, err
	}

	res, err := uc.repo.Add(ctx, ownerID, bytes)
	if err != nil {
		return nil, WrapError(ErrMetadataSaveFailed, err, "failed to add %d bytes to storage ledger", bytes)
	}
	if res.QuotaExceeded {
		uc.logger.WithContext(ctx).Info("storage quota rejected increment",
			zap.Int64("bytes", bytes),
			zap.Int64("current_total", res.NewTotal),
		)
	}
	return res, nil
}

// Remove 扣减账本，结果不低于 0
func (uc *QuotaUseCase) Remove(ctx context.Context, ownerID string, bytes int64) error {
	if bytes < 0 {
		return validationError("byte count must not be negative")
	}
	if err := uc.repo.Remove(ctx, ownerID, bytes); err != nil {
		return WrapError(ErrMetadataSaveFailed, err, "failed to remove %d bytes from storage ledger", bytes)
	}
	return nil
}

// Get 读取账本，不存在时按默认配额初始化
func (uc *QuotaUseCase) Get(ctx context.Context, ownerID string) (*StorageLedger, error) {
	ledger, err := uc.repo.Get(ctx, ownerID)
	if err != nil {
		return nil, WrapError(ErrMetadataSaveFailed, err, "failed to load storage ledger")
	}
	if ledger != nil {
		return ledger, nil
	}

	if err := uc.EnsureInitialized(ctx, ownerID); err != nil {
		return nil, err
	}
	ledger, err = uc.repo.Get(ctx, ownerID)
	if err != nil {
		return nil, WrapError(ErrMetadataSaveFailed, err, "failed to load storage ledger")
	}
	if ledger == nil {
		return &StorageLedger{OwnerID: ownerID, QuotaBytes: uc.defaultQuota}, nil
	}
	return ledger, nil
}

// Precheck 只读预检，用于在写对象前拒绝明显超额的上传；最终以 Add 为准
func (uc *QuotaUseCase) Precheck(ctx context.Context, ownerID string, bytes int64) error {
	ledger, err := uc.Get(ctx, ownerID)
	if err != nil {
		return err
	}
	if !ledger.Fits(bytes) {
		return NewError(ErrQuotaExceeded, "%d bytes requested, %d bytes available", bytes, ledger.AvailableBytes())
	}
	return nil
}
