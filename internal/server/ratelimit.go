package server

import (
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// chatRateLimit caps chat turns per client per minute using a redis
// counter. Without redis the limiter is a no-op; a limiter failure lets
// the request through rather than blocking the conversation.
func chatRateLimit(rdb *redis.Client, perMinute int, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if rdb == nil || perMinute <= 0 {
			return next
		}
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := "gatewarden:rl:chat:" + c.Get("client_id").(string)
			n, err := rdb.Incr(ctx, key).Result()
			if err != nil {
				logger.Printf("rate limiter unavailable: %v", err)
				return next(c)
			}
			if n == 1 {
				rdb.Expire(ctx, key, time.Minute)
			}
			if n > int64(perMinute) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "slow down")
			}
			return next(c)
		}
	}
}
