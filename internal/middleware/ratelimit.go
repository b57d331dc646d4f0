package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stripaudio/api/pkg/response"
)

const redisTimeout = 500 * time.Millisecond

// RateLimiter counts requests per client IP in fixed Redis windows. A nil
// client disables limiting.
type RateLimiter struct {
	redis  *redis.Client
	logger *zap.Logger
}

func NewRateLimiter(redisClient *redis.Client, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{redis: redisClient, logger: logger.Named("ratelimit")}
}

// Limit creates a rate limiting middleware. Requests are allowed when Redis
// cannot be reached.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl.redis == nil || maxRequests <= 0 {
			return c.Next()
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, c.IP())
		ctx, cancel := context.WithTimeout(c.UserContext(), redisTimeout)
		defer cancel()

		var incr *redis.IntCmd
		_, err := rl.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, key)
			pipe.ExpireNX(ctx, key, window)
			return nil
		})
		if err != nil {
			rl.logger.Warn("rate limit check skipped", zap.String("key", key), zap.Error(err))
			return c.Next()
		}
		count := incr.Val()

		if count > int64(maxRequests) {
			ttl, err := rl.redis.TTL(ctx, key).Result()
			if err != nil || ttl < 0 {
				ttl = window
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(int64(maxRequests)-count, 10))

		return c.Next()
	}
}

// UploadLimit returns a rate limiter for the upload endpoint.
func (rl *RateLimiter) UploadLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("upload", maxPerHour, time.Hour)
}
