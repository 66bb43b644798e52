package workerpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("worker pool is closed")

// Config Worker Pool 配置
type Config struct {
	Workers         int           `mapstructure:"workers"`         // 最大并发 worker 数
	MaxBlockingTask int           `mapstructure:"max_blocking"`    // 池满时允许阻塞等待的提交数，0 表示不限
	ExpiryDuration  time.Duration `mapstructure:"expiry_duration"` // 空闲 worker 回收间隔
	ReleaseTimeout  time.Duration `mapstructure:"release_timeout"` // 关闭时等待在途任务的时间
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Workers:        32,
		ExpiryDuration: time.Minute,
		ReleaseTimeout: 10 * time.Second,
	}
}

// Statistics 统计信息
type Statistics struct {
	Submitted int64
	Completed int64
	Failed    int64
	Running   int
}

// Pool 基于 ants 的 worker 池
type Pool struct {
	pool   *ants.Pool
	config *Config
	logger *zap.Logger

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// New 创建 worker 池
func New(config *Config, logger *zap.Logger) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}

	opts := []ants.Option{
		ants.WithPanicHandler(func(err interface{}) {
			logger.Error("worker panic", zap.Any("error", err), zap.Stack("stacktrace"))
		}),
	}
	if config.ExpiryDuration > 0 {
		opts = append(opts, ants.WithExpiryDuration(config.ExpiryDuration))
	}
	if config.MaxBlockingTask > 0 {
		opts = append(opts, ants.WithMaxBlockingTasks(config.MaxBlockingTask))
	}

	antsPool, err := ants.NewPool(config.Workers, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	logger.Info("worker pool started", zap.Int("workers", config.Workers))
	return &Pool{pool: antsPool, config: config, logger: logger}, nil
}

// Submit 提交任务
func (p *Pool) Submit(task func()) error {
	p.submitted.Add(1)
	err := p.pool.Submit(func() {
		defer p.completed.Add(1)
		task()
	})
	if err != nil {
		p.failed.Add(1)
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return fmt.Errorf("failed to submit task: %w", err)
	}
	return nil
}

// RunAll 并发执行一组任务并等待全部完成，返回与 tasks 下标一一对应的错误
func (p *Pool) RunAll(tasks []func() error) []error {
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		err := p.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("task panicked: %v", r)
				}
			}()
			errs[i] = task()
		})
		if err != nil {
			wg.Done()
			errs[i] = err
		}
	}

	wg.Wait()
	for _, err := range errs {
		if err != nil {
			p.failed.Add(1)
		}
	}
	return errs
}

// Stats 返回统计信息
func (p *Pool) Stats() Statistics {
	return Statistics{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Running:   p.pool.Running(),
	}
}

// Shutdown 关闭池并等待在途任务
func (p *Pool) Shutdown() {
	timeout := p.config.ReleaseTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		p.logger.Warn("worker pool release timed out", zap.Error(err))
		return
	}
	p.logger.Info("worker pool stopped", zap.Any("stats", p.Stats()))
}
