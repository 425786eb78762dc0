package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig parameterizes the fixed-window limiter.
type RateLimitConfig struct {
	Enabled bool
	// Limit is the number of requests allowed per window per client.
	Limit int
	// Window is the counting period.
	Window time.Duration
	// Prefix namespaces the Redis keys.
	Prefix string
}

// windowScript increments the client's counter and sets the window
// TTL on first use, returning the new count and the remaining TTL in
// milliseconds.  One script call keeps INCR and EXPIRE atomic.
var windowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[1]))
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`)

// RateLimit returns a fixed-window per-client limiter keyed by user
// (when authenticated) or remote IP.  The seat-lock endpoints are the
// service's hot path; this keeps one misbehaving client from
// monopolizing them.  When Redis is unavailable the limiter degrades
// to pass-through rather than failing requests.
func RateLimit(cfg RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error { return next(c) }
		}
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 30
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "rl"
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			client := c.RealIP()
			if uid, ok := UserID(c); ok {
				client = strconv.FormatUint(uid, 10)
			}
			key := fmt.Sprintf("%s:%s:%s", cfg.Prefix, c.Path(), client)

			vals, err := windowScript.Run(c.Request().Context(), rdb, []string{key}, cfg.Window.Milliseconds()).Int64Slice()
			if err != nil || len(vals) != 2 {
				// limiter must never take the service down with it
				return next(c)
			}
			count, ttlMs := vals[0], vals[1]
			if count > int64(cfg.Limit) {
				retry := time.Duration(ttlMs) * time.Millisecond
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
				return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "rate limit exceeded"})
			}
			return next(c)
		}
	}
}
