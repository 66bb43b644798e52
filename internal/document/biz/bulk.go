package biz

import (
	"context"
	"strings"

	apperrors "github.com/lk2023060901/medora-backend/internal/pkg/errors"
	"go.uber.org/zap"
)

// BatchFailure 批量操作中失败的条目
type BatchFailure struct {
	DocumentID string
	Error      string
	Code       int
}

// BatchResult 批量操作结果
type BatchResult struct {
	TotalCount   int
	SuccessCount int
	FailedCount  int
	FailedItems  []BatchFailure
}

// dedupeIDs 去除空白与重复 id，保持原顺序
func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// runBatch 在 worker 池上并发执行，单个失败不影响其他条目
func (uc *DocumentUseCase) runBatch(ctx context.Context, op string, ids []string, fn func(id string) error) (*BatchResult, error) {
	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return nil, validationError("document ids are required")
	}
	if len(ids) > uc.policy.MaxBulkItems {
		return nil, validationError("at most %d documents per batch", uc.policy.MaxBulkItems)
	}

	tasks := make([]func() error, len(ids))
	for i, id := range ids {
		tasks[i] = func() error { return fn(id) }
	}
	errs := uc.pool.RunAll(tasks)

	result := &BatchResult{TotalCount: len(ids), FailedItems: []BatchFailure{}}
	for i, err := range errs {
		if err == nil {
			result.SuccessCount++
			continue
		}
		result.FailedCount++
		result.FailedItems = append(result.FailedItems, BatchFailure{
			DocumentID: ids[i],
			Error:      batchErrorMessage(err),
			Code:       apperrors.ExtractCode(err),
		})
	}

	uc.logger.WithContext(ctx).Info("batch operation finished",
		zap.String("operation", op),
		zap.Int("total", result.TotalCount),
		zap.Int("succeeded", result.SuccessCount),
		zap.Int("failed", result.FailedCount),
	)
	return result, nil
}

func batchErrorMessage(err error) string {
	if d := apperrors.GetDetails(err); d != "" {
		return d
	}
	return apperrors.GetMessage(apperrors.ExtractCode(err))
}

// BulkRestore 批量恢复
func (uc *DocumentUseCase) BulkRestore(ctx context.Context, ownerID string, ids []string) (*BatchResult, error) {
	return uc.runBatch(ctx, "restore", ids, func(id string) error {
		_, err := uc.Restore(ctx, ownerID, id, 0)
		return err
	})
}

// BulkTrash 批量移入回收站
func (uc *DocumentUseCase) BulkTrash(ctx context.Context, ownerID string, ids []string) (*BatchResult, error) {
	return uc.runBatch(ctx, "trash", ids, func(id string) error {
		_, err := uc.Trash(ctx, ownerID, id, 0)
		return err
	})
}

// BulkDelete 批量彻底删除
func (uc *DocumentUseCase) BulkDelete(ctx context.Context, ownerID string, ids []string) (*BatchResult, error) {
	return uc.runBatch(ctx, "delete", ids, func(id string) error {
		return uc.PermanentlyDelete(ctx, ownerID, id)
	})
}

// EmptyTrash 清空回收站；存储层可能限制单页大小，按页取到空为止
func (uc *DocumentUseCase) EmptyTrash(ctx context.Context, ownerID string) (*BatchResult, error) {
	result := &BatchResult{FailedItems: []BatchFailure{}}
	attempted := make(map[string]struct{})
	page := 1
	for {
		docs, _, err := uc.repo.Query(ctx, ownerID, DocumentFilter{
			Trashed:  TrashOnly,
			Page:     page,
			PageSize: uc.policy.MaxBulkItems,
		})
		if err != nil {
			return nil, WrapError(ErrMetadataSaveFailed, err, "failed to list trash")
		}
		if len(docs) == 0 {
			return result, nil
		}

		ids := make([]string, 0, len(docs))
		for _, d := range docs {
			if _, ok := attempted[d.ID]; !ok {
				attempted[d.ID] = struct{}{}
				ids = append(ids, d.ID)
			}
		}
		// 本页都是已失败过的记录，跳到下一页
		if len(ids) == 0 {
			page++
			continue
		}

		batch, err := uc.BulkDelete(ctx, ownerID, ids)
		if err != nil {
			return nil, err
		}
		result.TotalCount += batch.TotalCount
		result.SuccessCount += batch.SuccessCount
		result.FailedCount += batch.FailedCount
		result.FailedItems = append(result.FailedItems, batch.FailedItems...)
	}
}
