// Package ratelimit 提供按客户端地址的滑动窗口限流。
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"ollama-chat-go/pkg/log"
)

// Limiter 在一次原子操作中完成“检查并记录”。
type Limiter interface {
	TryAcquire(ctx context.Context, key string) bool
}

// MemoryLimiter 是进程内的滑动窗口限流器，所有计数由一把互斥锁保护。
type MemoryLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
	// lastSweep 是上次清理空闲 key 的时间，每个窗口最多清理一次
	lastSweep time.Time
}

// NewMemoryLimiter 创建一个在 window 内最多允许 max 次请求的限流器。
func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		max:    max,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// TryAcquire 惰性清理过期记录，未超限时记录本次请求并返回 true。
func (l *MemoryLimiter) TryAcquire(_ context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}
	recent := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= l.max {
		l.hits[key] = recent
		return false
	}
	l.hits[key] = append(recent, now)
	return true
}

// sweep 删除窗口内已没有请求记录的 key。
func (l *MemoryLimiter) sweep(cutoff time.Time) {
	for key, times := range l.hits {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(l.hits, key)
		}
	}
}

// 滑动窗口：ZSET 中保存窗口内每次请求的时间戳，清理、计数与写入在一个脚本里原子完成。
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
    return 0
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisLimiter 是多实例共享的滑动窗口限流器。
type RedisLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
	prefix string
}

// NewRedisLimiter 创建一个基于 Redis 的限流器。
func NewRedisLimiter(client *redis.Client, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, max: max, window: window, prefix: "rate_limit:"}
}

// TryAcquire 在 Redis 异常时放行。
func (l *RedisLimiter) TryAcquire(ctx context.Context, key string) bool {
	now := time.Now()
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(now.UnixNano(), 10)
	res, err := slidingWindowScript.Run(ctx, l.client, []string{l.prefix + key},
		nowMs, l.window.Milliseconds(), l.max, member).Int()
	if err != nil {
		log.Warnf("限流服务异常(已降级): %v", err)
		return true
	}
	return res == 1
}

// New 根据是否配置了 Redis 选择实现。
func New(client *redis.Client, max int, window time.Duration) Limiter {
	if client != nil {
		return NewRedisLimiter(client, max, window)
	}
	return NewMemoryLimiter(max, window)
}
