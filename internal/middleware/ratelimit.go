package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jack/shortlink-resolver/internal/config"
)

// RateLimiter implements a per-IP sliding window rate limiter using a Redis
// sorted set. It fails open: when Redis errors, requests pass and the error
// is logged.
type RateLimiter struct {
	client   *redis.Client
	requests int
	duration time.Duration
	scope    string
	logger   *zap.Logger
}

// NewRateLimiter creates a limiter. Limiters with different scopes keep
// separate windows.
func NewRateLimiter(client *redis.Client, cfg *config.RateLimitConfig, scope string, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		client:   client,
		requests: cfg.Requests,
		duration: cfg.Duration,
		scope:    scope,
		logger:   logger,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		key := "ratelimit:" + rl.scope + ":" + ip
		ctx := c.Request.Context()

		now := time.Now()
		windowStart := now.Add(-rl.duration).UnixNano()

		pipe := rl.client.Pipeline()
		pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
		countCmd := pipe.ZCard(ctx, key)

		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			rl.logger.Warn("rate limit precheck failed",
				zap.String("ip", ip),
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			c.Next()
			return
		}

		count := countCmd.Val()
		reset := strconv.FormatInt(now.Add(rl.duration).Unix(), 10)

		if count >= int64(rl.requests) {
			rateLimitHits.WithLabelValues(rl.scope).Inc()
			c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Reset", reset)
			c.Header("Retry-After", strconv.Itoa(int(rl.duration.Seconds())))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests. Please try again later.",
			})
			return
		}

		// Members must be unique or concurrent requests in the same
		// nanosecond would collapse into one entry.
		pipe = rl.client.Pipeline()
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(now.UnixNano()),
			Member: uuid.NewString(),
		})
		pipe.Expire(ctx, key, rl.duration)
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			rl.logger.Warn("rate limit record failed",
				zap.String("ip", ip),
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
		}

		remaining := max(rl.requests-int(count)-1, 0)

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", reset)

		c.Next()
	}
}
