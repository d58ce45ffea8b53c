package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatflow/internal/chat"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// SendLimiter caps sends per user in fixed windows aligned to window boundaries.
type SendLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

var _ chat.Limiter = (*SendLimiter)(nil)

func NewSendLimiter(rdb *redis.Client, limit int64, window time.Duration) *SendLimiter {
	if window <= 0 {
		window = time.Hour
	}
	return &SendLimiter{redis: rdb, limit: limit, window: window}
}

func (r *SendLimiter) Allow(ctx context.Context, userID string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	windowStart := now.UTC().Truncate(r.window)
	windowEnd := windowStart.Add(r.window)
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("chatflow:ratelimit:%s:%d", userID, windowStart.Unix())
	res, err := incrWithTTLScript.Run(ctx, r.redis, []string{key}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit script: %w", err)
	}
	return res <= r.limit, res, windowEnd, nil
}

// AllowSend admits everything when the limit is not positive.
func (r *SendLimiter) AllowSend(ctx context.Context, userID string, now time.Time) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}
	allowed, _, _, err := r.Allow(ctx, userID, now)
	return allowed, err
}
