package flood

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript は古い記録の削除・件数確認・記録を原子的に行います。
// 戻り値は {1, 0}（許可）または {0, 最古の記録のミリ秒}（拒否）です。
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. (now - window))
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, tonumber(oldest[2])}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, 0}
`)

const redisKeyPrefix = "flood:"

// RedisLimiter は Redis のソート済みセットで試行を記録する Limiter です。
type RedisLimiter struct {
	rdb redis.Scripter
	now func() time.Time
}

// NewRedisLimiter は RedisLimiter を作成します。
func NewRedisLimiter(rdb redis.Scripter) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, now: time.Now}
}

// SetClock は現在時刻の取得関数を差し替えます（テスト用）。
func (l *RedisLimiter) SetClock(now func() time.Time) {
	l.now = now
}

func (l *RedisLimiter) Allow(ctx context.Context, ip, action string, limit int) (Result, error) {
	if limit <= 0 {
		return Result{Allowed: true}, nil
	}

	now := l.now()
	key := redisKeyPrefix + action + ":" + ip
	vals, err := slidingWindowScript.Run(ctx, l.rdb, []string{key},
		now.UnixMilli(), Window.Milliseconds(), limit, uuid.NewString()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("flood script: %w", err)
	}
	return parseScriptResult(vals, now)
}

func parseScriptResult(vals []int64, now time.Time) (Result, error) {
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("flood script: unexpected reply %v", vals)
	}
	if vals[0] == 1 {
		return Result{Allowed: true}, nil
	}
	return Result{Allowed: false, RetryAfter: RetryAfter(time.UnixMilli(vals[1]), now)}, nil
}
