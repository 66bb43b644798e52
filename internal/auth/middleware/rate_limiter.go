package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apperrors "github.com/lk2023060901/medora-backend/internal/pkg/errors"
	"github.com/lk2023060901/medora-backend/internal/pkg/logger"
	"github.com/lk2023060901/medora-backend/internal/pkg/redis"
	"github.com/lk2023060901/medora-backend/internal/pkg/response"
	"go.uber.org/zap"
)

// RateLimiterConfig 限流配置
type RateLimiterConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// 时间窗口内允许的最大请求数
	MaxRequests int `mapstructure:"max_requests"`
	// 时间窗口
	Window time.Duration `mapstructure:"window"`
	// 限流策略：user, endpoint, ip（默认）
	Strategy string `mapstructure:"strategy"`
}

// slidingWindow 原子滑动窗口；成员带随机后缀，同一毫秒内的请求不会互相覆盖
const slidingWindow = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local current = redis.call('ZCARD', key)

if current < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	return {1, limit - current - 1, now + window}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')[2]
return {0, 0, tonumber(oldest) + window}
`

// RateLimiter 基于 Redis 的滑动窗口限流中间件
func RateLimiter(redisClient *redis.Client, cfg RateLimiterConfig, log *logger.Logger) gin.HandlerFunc {
	if !cfg.Enabled || redisClient == nil {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Strategy == "" {
		cfg.Strategy = "ip"
	}

	return func(c *gin.Context) {
		key := buildRateLimitKey(c, redisClient, cfg.Strategy)

		allowed, remaining, resetAt, err := checkRateLimit(c.Request.Context(), redisClient, key, cfg)
		if err != nil {
			log.Error("rate limiter error", zap.Error(err), zap.String("key", key))
			// 限流器故障时放行
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(cfg.Window.Seconds())))
			response.ErrorWithCode(c, apperrors.ErrTooManyRequests,
				fmt.Sprintf("please try again in %s", cfg.Window))
			return
		}

		c.Next()
	}
}

// buildRateLimitKey 构建限流 key
func buildRateLimitKey(c *gin.Context, redisClient *redis.Client, strategy string) string {
	switch strategy {
	case "user":
		// 未认证用户回退到 IP 限流
		if userID, ok := GetUserID(c); ok {
			return redisClient.Key("rate_limit", "user", userID)
		}
		return redisClient.Key("rate_limit", "ip", c.ClientIP())
	case "endpoint":
		return redisClient.Key("rate_limit", "endpoint", c.FullPath(), c.ClientIP())
	default:
		return redisClient.Key("rate_limit", "ip", c.ClientIP())
	}
}

func checkRateLimit(ctx context.Context, redisClient *redis.Client, key string, cfg RateLimiterConfig) (bool, int, time.Time, error) {
	now := time.Now().UnixMilli()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	result, err := redisClient.Eval(ctx, slidingWindow, []string{key}, now, cfg.Window.Milliseconds(), cfg.MaxRequests, member)
	if err != nil {
		return false, 0, time.Time{}, err
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("invalid rate limit result")
	}

	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	resetAt, _ := values[2].(int64)
	return allowed == 1, int(remaining), time.UnixMilli(resetAt), nil
}
