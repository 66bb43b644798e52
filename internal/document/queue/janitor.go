package queue

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lk2023060901/medora-backend/internal/pkg/metrics"
	"go.uber.org/zap"
)

// Purger 回收站清理用例
type Purger interface {
	PurgeTrashedBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Lease 多实例部署时保证同一轮只有一个实例执行清理
type Lease interface {
	Key(parts ...string) string
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// JanitorConfig 回收站清理配置
type JanitorConfig struct {
	Retention time.Duration `mapstructure:"trash_retention"`
	Interval  time.Duration `mapstructure:"janitor_interval"`
	BatchSize int           `mapstructure:"janitor_batch_size"`
	MaxRounds int           `mapstructure:"janitor_max_rounds"`
}

// DefaultJanitorConfig 默认保留 30 天，每小时清理一次
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Retention: 30 * 24 * time.Hour,
		Interval:  time.Hour,
		BatchSize: 100,
		MaxRounds: 20,
	}
}

// Janitor 定时永久删除超过保留期的回收站文档
type Janitor struct {
	purger Purger
	lease  Lease
	cfg    JanitorConfig
	logger *zap.Logger
	now    func() time.Time

	wg      sync.WaitGroup
	stopCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewJanitor 创建清理任务，lease 为 nil 时不做实例间互斥
func NewJanitor(purger Purger, lease Lease, cfg JanitorConfig, logger *zap.Logger) *Janitor {
	def := DefaultJanitorConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = def.MaxRounds
	}
	return &Janitor{
		purger: purger,
		lease:  lease,
		cfg:    cfg,
		logger: logger.Named("janitor"),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start 启动后台清理循环
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("janitor already running")
	}
	j.running = true
	j.logger.Info("starting trash janitor",
		zap.Duration("retention", j.cfg.Retention),
		zap.Duration("interval", j.cfg.Interval))

	j.wg.Add(1)
	go j.loop(ctx)
	return nil
}

// Stop 停止清理并等待当前一轮结束
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}
	close(j.stopCh)
	j.wg.Wait()
	j.running = false
	j.logger.Info("trash janitor stopped")
}

func (j *Janitor) loop(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Error("trash purge round failed", zap.Error(err))
			}
		}
	}
}

// RunOnce 执行一轮清理，返回永久删除的文档数
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	acquired, err := j.acquire(ctx)
	if err != nil {
		return 0, err
	}
	if !acquired {
		j.logger.Debug("trash purge skipped, another instance holds the lease")
		return 0, nil
	}

	cutoff := j.now().Add(-j.cfg.Retention)
	total := 0
	for round := 0; round < j.cfg.MaxRounds; round++ {
		n, err := j.purger.PurgeTrashedBefore(ctx, cutoff, j.cfg.BatchSize)
		total += n
		metrics.AddTrashPurged(n)
		if err != nil {
			return total, err
		}
		// 不足一批说明已清空，或剩余的都是删除失败的记录
		if n < j.cfg.BatchSize {
			break
		}
	}

	if total > 0 {
		j.logger.Info("expired trash purged", zap.Int("count", total), zap.Time("cutoff", cutoff))
	}
	return total, nil
}

func (j *Janitor) acquire(ctx context.Context) (bool, error) {
	if j.lease == nil {
		return true, nil
	}
	holder, _ := os.Hostname()
	ttl := j.cfg.Interval / 2
	if ttl < time.Minute {
		ttl = time.Minute
	}
	ok, err := j.lease.SetNX(ctx, j.lease.Key("janitor", "trash"), holder, ttl)
	if err != nil {
		return false, fmt.Errorf("acquire janitor lease: %w", err)
	}
	return ok, nil
}
