package httpx

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimit configures a fixed-window limit per client.
type RateLimit struct {
	Limit  int
	Window time.Duration
	// ForwardedHops is the number of trusted proxies in front of the service. With n > 0 the
	// client is the n-th X-Forwarded-For entry from the right; with 0 the header is ignored.
	ForwardedHops int
	// FailOpen lets requests through when the counter store is unreachable.
	FailOpen bool
}

func (c RateLimit) normalized() RateLimit {
	if c.Limit <= 0 {
		c.Limit = 60
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	return c
}

// windowCounter increments key and reports the count and the time left in its window.
type windowCounter interface {
	incr(ctx context.Context, key string) (int64, time.Duration, error)
}

func limitMiddleware(cfg RateLimit, counter windowCounter, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count, resetIn, err := counter.incr(r.Context(), clientKey(r, cfg.ForwardedHops))
			if err != nil {
				if logger != nil {
					logger.Warn("rate limiter unavailable", "request_id", RequestIDFromContext(r.Context()), "err", err)
				}
				if cfg.FailOpen {
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Set("Retry-After", "1")
				WriteError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
				return
			}
			remaining := int64(cfg.Limit) - count
			if remaining < 0 {
				remaining = 0
			}
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			if count > int64(cfg.Limit) {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(resetIn.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter keeps counters in process memory. Use RedisRateLimiter when several
// replicas serve the same clients.
type RateLimiter struct {
	cfg RateLimit
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count int64
	reset time.Time
}

// Expired windows are swept once the map grows past this size.
const sweepThreshold = 10000

func NewRateLimiter(cfg RateLimit) *RateLimiter {
	return &RateLimiter{cfg: cfg.normalized(), now: time.Now, windows: map[string]*window{}}
}

func (rl *RateLimiter) Middleware() Middleware {
	return limitMiddleware(rl.cfg, rl, nil)
}

func (rl *RateLimiter) incr(_ context.Context, key string) (int64, time.Duration, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if len(rl.windows) > sweepThreshold {
		for k, w := range rl.windows {
			if !now.Before(w.reset) {
				delete(rl.windows, k)
			}
		}
	}
	w := rl.windows[key]
	if w == nil || !now.Before(w.reset) {
		w = &window{reset: now.Add(rl.cfg.Window)}
		rl.windows[key] = w
	}
	w.count++
	return w.count, w.reset.Sub(now), nil
}

func clientKey(r *http.Request, hops int) string {
	if hops > 0 {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			i := len(parts) - hops
			if i < 0 {
				i = 0
			}
			if ip := strings.TrimSpace(parts[i]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
