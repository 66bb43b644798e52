package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Del 删除键
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	n, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		c.logger.Error("redis del failed", zap.Strings("keys", keys), zap.Error(err))
	}
	return n, err
}

// incrWithTTL 自增；首次创建时设置过期时间，窗口从第一次自增开始计算
var incrWithTTL = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// IncrWithTTL 原子自增计数并在首次写入时设置窗口
func (c *Client) IncrWithTTL(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := incrWithTTL.Run(ctx, c.rdb, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		c.logger.Error("redis incr with ttl failed", zap.String("key", key), zap.Error(err))
	}
	return n, err
}

// Eval 执行 Lua 脚本
func (c *Client) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	result, err := c.rdb.Eval(ctx, script, keys, args...).Result()
	if err != nil {
		c.logger.Error("redis eval failed", zap.Strings("keys", keys), zap.Error(err))
	}
	return result, err
}

// SetNX 键不存在时写入并设置过期时间，返回是否写入成功
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		c.logger.Error("redis setnx failed", zap.String("key", key), zap.Error(err))
	}
	return ok, err
}
