package data

import (
	"context"
	"fmt"
	"time"

	"github.com/lk2023060901/medora-backend/internal/document/biz"
	"github.com/lk2023060901/medora-backend/internal/pkg/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StorageLedgerPO 存储账本数据库模型
type StorageLedgerPO struct {
	OwnerID    string    `gorm:"column:owner_id;size:128;primarykey"`
	TotalBytes int64     `gorm:"column:total_bytes;not null;default:0;check:chk_ledger_total_bytes,total_bytes >= 0"`
	TotalFiles int64     `gorm:"column:total_files;not null;default:0;check:chk_ledger_total_files,total_files >= 0"`
	QuotaBytes int64     `gorm:"column:quota_bytes;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

func (StorageLedgerPO) TableName() string {
	return "storage_ledgers"
}

// LedgerRepo 账本仓储实现，所有写操作都是单条语句
type LedgerRepo struct {
	db *database.DB
}

// NewLedgerRepo 创建账本仓储
func NewLedgerRepo(db *database.DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

// EnsureInitialized INSERT ... ON CONFLICT DO NOTHING
func (r *LedgerRepo) EnsureInitialized(ctx context.Context, ownerID string, quotaBytes int64) error {
	po := &StorageLedgerPO{
		OwnerID:    ownerID,
		QuotaBytes: quotaBytes,
		UpdatedAt:  time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).GetDB().
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(po).Error
	if err != nil {
		return fmt.Errorf("failed to initialize storage ledger: %w", err)
	}
	return nil
}

// Add 条件自增：仅当新总量不超过配额时生效
func (r *LedgerRepo) Add(ctx context.Context, ownerID string, bytes int64) (*biz.LedgerAddResult, error) {
	var po StorageLedgerPO
	res := r.db.WithContext(ctx).GetDB().Model(&po).
		Clauses(clause.Returning{}).
		Where("owner_id = ? AND total_bytes + ? <= quota_bytes", ownerID, bytes).
		Updates(map[string]interface{}{
			"total_bytes": gorm.Expr("total_bytes + ?", bytes),
			"total_files": gorm.Expr("total_files + 1"),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to add to storage ledger: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return &biz.LedgerAddResult{Success: true, NewTotal: po.TotalBytes}, nil
	}

	current, err := r.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("storage ledger for owner %s is not initialized", ownerID)
	}
	return &biz.LedgerAddResult{Success: false, NewTotal: current.TotalBytes, QuotaExceeded: true}, nil
}

// Remove 扣减，结果不低于 0；账本不存在时为空操作
func (r *LedgerRepo) Remove(ctx context.Context, ownerID string, bytes int64) error {
	err := r.db.WithContext(ctx).GetDB().Model(&StorageLedgerPO{}).
		Where("owner_id = ?", ownerID).
		Updates(map[string]interface{}{
			"total_bytes": gorm.Expr("GREATEST(total_bytes - ?, 0)", bytes),
			"total_files": gorm.Expr("GREATEST(total_files - 1, 0)"),
			"updated_at":  time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to remove from storage ledger: %w", err)
	}
	return nil
}

// Get 读取账本，不存在时返回 nil
func (r *LedgerRepo) Get(ctx context.Context, ownerID string) (*biz.StorageLedger, error) {
	var po StorageLedgerPO
	err := r.db.WithContext(ctx).GetDB().Where("owner_id = ?", ownerID).First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get storage ledger: %w", err)
	}
	return &biz.StorageLedger{
		OwnerID:    po.OwnerID,
		TotalBytes: po.TotalBytes,
		TotalFiles: po.TotalFiles,
		QuotaBytes: po.QuotaBytes,
		UpdatedAt:  po.UpdatedAt,
	}, nil
}

var _ biz.LedgerRepo = (*LedgerRepo)(nil)
