package http

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/ticketdesk/ticket-service/pkg/util/errorutil"
)

const loginRateLimitMessage = "Too many login attempts, please try again later"

// Counter is a fixed-window hit counter keyed by string.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// LoginRateLimiter caps attempts per client address within window. When the
// counter store is unreachable requests are let through.
func LoginRateLimiter(counter Counter, maxAttempts int, window time.Duration, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if counter == nil || maxAttempts <= 0 || window <= 0 {
			return c.Next()
		}
		hits, err := counter.Incr(c.UserContext(), "ratelimit:login:"+c.IP(), window)
		if err != nil {
			logger.Warn("login rate limiter unavailable", zap.Error(err))
			return c.Next()
		}
		if hits > int64(maxAttempts) {
			c.Set(fiber.HeaderRetryAfter, formatSeconds(window))
			return apperrors.NewTooManyRequests(loginRateLimitMessage)
		}
		return c.Next()
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.Itoa(int(d.Seconds()))
}
