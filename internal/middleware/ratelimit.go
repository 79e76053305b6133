package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"emphealth-backend/internal/database"
	apperrors "emphealth-backend/pkg/errors"
	"emphealth-backend/pkg/logger"
	"emphealth-backend/pkg/metrics"
	"emphealth-backend/pkg/response"
)

// RateLimiter implements fixed-window rate limiting backed by Redis. When
// Redis is degraded it falls back to per-instance counters.
type RateLimiter struct {
	redis    *database.RedisClient
	fallback *InMemoryRateLimiter
	metrics  *metrics.Metrics
	requests int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter.
// requests is the number allowed per window for one user or IP.
func NewRateLimiter(redisClient *database.RedisClient, m *metrics.Metrics, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:    redisClient,
		fallback: NewInMemoryRateLimiter(),
		metrics:  m,
		requests: requests,
		window:   window,
		now:      time.Now,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID, _, ok := CurrentUser(c); ok {
			identifier = "user:" + userID.String()
		}

		allowed, remaining, resetAt := rl.check(c.Request.Context(), identifier)

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if !allowed {
			rl.metrics.RecordRateLimitBlocked("http")
			c.Header("Retry-After", strconv.FormatInt(max(resetAt-rl.now().Unix(), 1), 10))
			response.Error(c, http.StatusTooManyRequests, string(apperrors.ErrCodeRateLimitExceeded), "Rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) check(ctx context.Context, identifier string) (bool, int, int64) {
	now := rl.now()
	windowSecs := int64(rl.window.Seconds())
	if windowSecs <= 0 {
		windowSecs = 1
	}
	windowStart := now.Unix() / windowSecs * windowSecs
	resetAt := windowStart + windowSecs

	count, err := rl.incr(ctx, identifier, windowStart)
	if err != nil {
		logger.Debug("Rate limit falling back to memory",
			zap.String("identifier", identifier),
			zap.Error(err))
		count = rl.fallback.Incr(identifier, windowStart)
	}

	remaining := rl.requests - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.requests, remaining, resetAt
}

func (rl *RateLimiter) incr(ctx context.Context, identifier string, windowStart int64) (int, error) {
	if rl.redis == nil {
		return 0, database.ErrRedisDegraded
	}
	key := fmt.Sprintf("ratelimit:%s:%d", identifier, windowStart)

	var incr *redis.IntCmd
	err := rl.redis.SafeTxPipelined(ctx, "ratelimit", func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, rl.window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

// InMemoryRateLimiter counts requests per identifier and window inside one process
type InMemoryRateLimiter struct {
	mu     sync.Mutex
	limits map[string]*windowCount
}

type windowCount struct {
	count       int
	windowStart int64
}

// NewInMemoryRateLimiter creates a new in-memory rate limiter
func NewInMemoryRateLimiter() *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		limits: make(map[string]*windowCount),
	}
}

// Incr counts one request in the window starting at windowStart and returns
// the window's total. Entries of older windows are reset in place.
func (im *InMemoryRateLimiter) Incr(identifier string, windowStart int64) int {
	im.mu.Lock()
	defer im.mu.Unlock()

	wc, ok := im.limits[identifier]
	if !ok || wc.windowStart != windowStart {
		wc = &windowCount{windowStart: windowStart}
		im.limits[identifier] = wc
	}
	wc.count++
	return wc.count
}

// Cleanup drops entries of windows that started before cutoff
func (im *InMemoryRateLimiter) Cleanup(cutoff int64) {
	im.mu.Lock()
	defer im.mu.Unlock()

	for id, wc := range im.limits {
		if wc.windowStart < cutoff {
			delete(im.limits, id)
		}
	}
}

// StartCleanup prunes stale in-memory windows until ctx is cancelled
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(rl.window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				rl.fallback.Cleanup(t.Add(-rl.window).Unix())
			}
		}
	}()
}
