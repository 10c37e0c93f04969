package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/luli-tech/taskPadi-be/pkg/logger"
	"github.com/luli-tech/taskPadi-be/pkg/response"
)

// RateLimiter is a fixed-window limiter shared across instances through Redis
type RateLimiter struct {
	client   *redis.Client
	requests int
	window   time.Duration
	prefix   string
}

// NewRateLimiter allows requests per window for each user (or client IP
// before authentication). prefix separates independent limits.
func NewRateLimiter(client *redis.Client, prefix string, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client:   client,
		requests: requests,
		window:   window,
		prefix:   prefix,
	}
}

// Middleware returns a Gin middleware for rate limiting. Redis errors fail open.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID, ok := GetUserID(c); ok {
			identifier = "user:" + userID.String()
		}

		count, ttl, err := rl.hit(c.Request.Context(), identifier)
		if err != nil {
			logger.Warn("Rate limit check failed, allowing request",
				zap.String("identifier", identifier),
				zap.Error(err))
			c.Next()
			return
		}

		remaining := rl.requests - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if int(count) > rl.requests {
			c.Header("Retry-After", strconv.Itoa(int(ttl.Round(time.Second).Seconds())))
			response.Error(c, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}

// hit counts one request in the current window and returns the count and the
// time left in the window
func (rl *RateLimiter) hit(ctx context.Context, identifier string) (int64, time.Duration, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", rl.prefix, identifier)

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, rl.window)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to update rate limit: %w", err)
	}

	return incr.Val(), ttl.Val(), nil
}
