package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter shares one counter per client and window across all replicas.
type RedisRateLimiter struct {
	rdb    redis.Scripter
	cfg    RateLimit
	prefix string
}

// Returns {count, pttl}. The expiry is set only by the first hit so the window is fixed.
var redisWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {current, redis.call("PTTL", KEYS[1])}
`)

func NewRedisRateLimiter(rdb redis.Scripter, cfg RateLimit, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "studiobook:rl"
	}
	return &RedisRateLimiter{rdb: rdb, cfg: cfg.normalized(), prefix: prefix}
}

func (rl *RedisRateLimiter) Middleware(logger *slog.Logger) Middleware {
	return limitMiddleware(rl.cfg, rl, logger)
}

func (rl *RedisRateLimiter) incr(ctx context.Context, key string) (int64, time.Duration, error) {
	res, err := redisWindowScript.Run(ctx, rl.rdb, []string{rl.prefix + ":" + key}, rl.cfg.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("rate limit script returned %d values", len(res))
	}
	ttl := time.Duration(res[1]) * time.Millisecond
	if ttl < 0 {
		// Key without expiry (e.g. PEXPIRE lost to a failover): report a full window.
		ttl = rl.cfg.Window
	}
	return res[0], ttl, nil
}
