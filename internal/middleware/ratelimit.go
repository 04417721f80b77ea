package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/bazar-buzzer/internal/config"
)

// DeviceTokenHeader carries the device's lease token.  Handlers also accept
// the token in the JSON body; the header lets the limiter key on it before
// the body is read.
const DeviceTokenHeader = "X-Device-Token"

// tokenBucket takes one token from the bucket at KEYS[1], first adding
// ARGV[3] tokens for every whole ARGV[4] milliseconds since the last
// refill.  ARGV: now_ms, capacity, refill, interval_ms, ttl_s.  It returns
// {allowed, remaining, retry_ms}.
var tokenBucket = redis.NewScript(`
local now, cap, refill, every, ttl =
  tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4]), tonumber(ARGV[5])

local h = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens, ts = tonumber(h[1]) or cap, tonumber(h[2]) or now

if every > 0 and refill > 0 and now > ts then
  local n = math.floor((now - ts) / every)
  if n > 0 then
    tokens = math.min(cap, tokens + n * refill)
    ts = ts + n * every
  end
end

local ok, wait = 0, 0
if tokens >= 1 then
  ok, tokens = 1, tokens - 1
else
  wait = math.max(0, every - (now - ts))
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', ts)
redis.call('EXPIRE', KEYS[1], ttl)
return {ok, tokens, wait}
`)

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

// NewTokenBucket limits requests per key with a Redis token bucket.  With
// the limiter disabled or no Redis client it passes every request through;
// a Redis error also lets the request through rather than failing a press.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passThrough
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			args := []any{
				time.Now().UnixMilli(),
				cfg.Capacity,
				cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(),
				int64(cfg.TTL / time.Second),
			}

			vals, err := tokenBucket.Run(c.Request().Context(), rdb, []string{key}, args...).Result()
			if err != nil {
				if cfg.Debug {
					c.Logger().Warnf("[ratelimit] redis error for key=%s: %v", key, err)
				}
				return next(c)
			}
			arr, ok := vals.([]any)
			if !ok || len(arr) != 3 {
				if cfg.Debug {
					c.Logger().Warnf("[ratelimit] unexpected script result for key=%s: %#v", key, vals)
				}
				return next(c)
			}
			allowed := fmt.Sprint(arr[0]) == "1"
			remaining := asInt64(arr[1])
			retryMs := asInt64(arr[2])

			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if !allowed {
				secs := int(math.Ceil(float64(retryMs) / 1000.0))
				if secs < 0 {
					secs = 0
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				if cfg.Debug {
					c.Logger().Infof("[ratelimit] block key=%s remaining=%d retry=%dms", key, remaining, retryMs)
				}
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too_many_requests",
					"message":     "rate limit exceeded",
					"retry_after": secs,
				})
			}
			if cfg.Debug {
				c.Response().Header().Set("X-RateLimit-Key", key)
			}
			return next(c)
		}
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	device := strings.TrimSpace(c.Request().Header.Get(DeviceTokenHeader))
	if device == "" {
		device = "anon"
	}
	route := c.Request().Method + " " + c.Path()

	parts := []string{cfg.Prefix}
	switch strings.ToLower(cfg.KeyStrategy) {
	case config.KeyIP:
		parts = append(parts, "ip", ip)
	case config.KeyDevice:
		parts = append(parts, "device", device)
	case config.KeyRoute:
		parts = append(parts, "route", route)
	case config.KeyIPRoute:
		parts = append(parts, "ip", ip, "route", route)
	case config.KeyDeviceRoute:
		parts = append(parts, "device", device, "route", route)
	default:
		parts = append(parts, "ip", ip, "device", device, "route", route)
	}
	return strings.Join(parts, ":")
}
