package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/transitlive/transitlive_core/internal/cache"
	"github.com/transitlive/transitlive_core/internal/clock"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more request for key is allowed right now
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter counts requests per key per wall-clock second with INCR,
// so the limit holds across API replicas.
type RedisLimiter struct {
	rdb       cache.Client
	perSecond int
	clock     clock.Clock
}

func NewRedisLimiter(rdb cache.Client, perSecond int, clk clock.Clock) *RedisLimiter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &RedisLimiter{rdb: rdb, perSecond: perSecond, clock: clk}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	keySecond := fmt.Sprintf("rl:user:%s:second:%d", key, l.clock.Now().Unix())
	count, err := l.rdb.Incr(ctx, keySecond).Result()
	if err != nil {
		return true, err
	}
	if count == 1 {
		l.rdb.Expire(ctx, keySecond, 2*time.Second)
	}
	return count <= int64(l.perSecond), nil
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanoseconds
}

// LocalLimiter keeps a token bucket per key in process. Idle buckets are
// dropped by Cleanup.
type LocalLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	clock    clock.Clock
}

func NewLocalLimiter(perSecond, burst int, clk clock.Clock) *LocalLimiter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if burst < 1 {
		burst = 1
	}
	return &LocalLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		clock:    clk,
	}
}

func (l *LocalLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.get(key).AllowN(l.clock.Now(), 1), nil
}

func (l *LocalLimiter) get(key string) *rate.Limiter {
	now := l.clock.Now().UnixNano()

	l.mu.RLock()
	if e, ok := l.limiters[key]; ok {
		e.lastSeen.Store(now)
		l.mu.RUnlock()
		return e.limiter
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.limiters[key]; ok {
		e.lastSeen.Store(now)
		return e.limiter
	}
	e := &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
	e.lastSeen.Store(now)
	l.limiters[key] = e
	return e.limiter
}

// Cleanup removes limiters idle for longer than maxIdle and returns how many were dropped
func (l *LocalLimiter) Cleanup(maxIdle time.Duration) int {
	cutoff := l.clock.Now().Add(-maxIdle).UnixNano()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, e := range l.limiters {
		if e.lastSeen.Load() < cutoff {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// RunCleanup calls Cleanup every interval until ctx is done
func (l *LocalLimiter) RunCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup(maxIdle)
		}
	}
}

// KeyFunc extracts the rate limit key from a request. Empty means unlimited.
type KeyFunc func(c *fiber.Ctx) string

// UserIDFromBody keys requests by the user_id field of a JSON body
func UserIDFromBody(c *fiber.Ctx) string {
	var body struct {
		UserID int64 `json:"user_id"`
	}
	if err := c.BodyParser(&body); err != nil || body.UserID == 0 {
		return ""
	}
	return strconv.FormatInt(body.UserID, 10)
}

type RateLimitMetrics interface {
	RateLimitedInc()
}

// RateLimit rejects requests over the limit with 429. Limiter errors fail open.
func RateLimit(l Limiter, keyFn KeyFunc, m RateLimitMetrics, logger *slog.Logger) fiber.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *fiber.Ctx) error {
		key := keyFn(c)
		if key == "" {
			return c.Next()
		}

		allowed, err := l.Allow(c.UserContext(), key)
		if err != nil {
			logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
			return c.Next()
		}
		if !allowed {
			if m != nil {
				m.RateLimitedInc()
			}
			c.Set("Retry-After", "1")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "rate_limit_exceeded",
				"message":     "Too many location updates per second",
				"retry_after": 1,
			})
		}
		return c.Next()
	}
}
