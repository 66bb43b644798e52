package redis

import "errors"

// ErrNotInitialized 客户端未初始化或已关闭
var ErrNotInitialized = errors.New("redis: client not initialized")
