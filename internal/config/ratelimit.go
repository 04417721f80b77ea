package config

import "time"

// Rate-limit key strategies.  The device strategies read the X-Device-Token
// header so one phone cannot hammer press from behind a shared NAT address
// while its neighbours are throttled with it.
const (
	KeyIP            = "ip"
	KeyDevice        = "device"
	KeyRoute         = "route"
	KeyIPRoute       = "ip_route"
	KeyDeviceRoute   = "device_route"
	KeyIPDeviceRoute = "ip_device_route"
)

// RateLimitConfig configures the Redis token bucket that guards register
// and press.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
	Debug          bool
}

// LoadRateLimitConfig reads RATE_LIMIT_* variables.  A full classroom
// presses within the same second, so the default bucket is sized per
// device rather than per address.
func LoadRateLimitConfig() RateLimitConfig {
	def := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("RATE_LIMIT_CAPACITY", 20),
		RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    envStr("RATE_LIMIT_KEY_STRATEGY", KeyIPDeviceRoute),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "rl"),
		Debug:          envBool("RATE_LIMIT_DEBUG", false),
	}
	if b := envInt("RATE_LIMIT_BURST", -1); b > 0 {
		def.Capacity = b
	}
	if every := envDur("RATE_LIMIT_REFILL_EVERY", 0); every > 0 {
		def.RefillTokens = 1
		def.RefillInterval = every
	}
	if def.Capacity < 1 {
		def.Capacity = 1
	}
	if def.RefillTokens < 1 {
		def.RefillTokens = 1
	}
	if def.RefillInterval <= 0 {
		def.RefillInterval = time.Second
	}
	if minTTL := 5 * def.RefillInterval; def.TTL < minTTL {
		def.TTL = minTTL
	}
	switch def.KeyStrategy {
	case KeyIP, KeyDevice, KeyRoute, KeyIPRoute, KeyDeviceRoute, KeyIPDeviceRoute:
	default:
		def.KeyStrategy = KeyIPDeviceRoute
	}
	return def
}
