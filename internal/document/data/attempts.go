package data

import (
	"context"
	"fmt"
	"time"

	"github.com/lk2023060901/medora-backend/internal/document/biz"
	"github.com/lk2023060901/medora-backend/internal/pkg/redis"
)

// AttemptLimiter 基于 Redis 的分享密码尝试计数，计数窗口从第一次尝试开始
type AttemptLimiter struct {
	rdb    *redis.Client
	window time.Duration
}

// NewAttemptLimiter 创建失败计数器
func NewAttemptLimiter(rdb *redis.Client, window time.Duration) *AttemptLimiter {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &AttemptLimiter{rdb: rdb, window: window}
}

func (l *AttemptLimiter) key(shareID string) string {
	return l.rdb.Key("share", "attempts", shareID)
}

// RecordAttempt 原子自增并返回窗口内的尝试次数
func (l *AttemptLimiter) RecordAttempt(ctx context.Context, shareID string) (int64, error) {
	n, err := l.rdb.IncrWithTTL(ctx, l.key(shareID), l.window)
	if err != nil {
		return 0, fmt.Errorf("failed to record share attempt: %w", err)
	}
	return n, nil
}

// Reset 验证成功后清零
func (l *AttemptLimiter) Reset(ctx context.Context, shareID string) error {
	if _, err := l.rdb.Del(ctx, l.key(shareID)); err != nil {
		return fmt.Errorf("failed to reset share attempts: %w", err)
	}
	return nil
}

var _ biz.AttemptLimiter = (*AttemptLimiter)(nil)
