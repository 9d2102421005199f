package config

import (
	"os"
	"strconv"
	"time"
)

// RateLimitConfig configures the Redis sliding-window limiter for one
// endpoint class. Mutation endpoints (optimize, generate, record updates)
// are limited much tighter than read endpoints (history, discovery).
type RateLimitConfig struct {
	Enabled bool
	Limit   int           // requests allowed inside the window
	Window  time.Duration // sliding window length
	Prefix  string        // Redis key prefix, also names the class
	Debug   bool
}

// LoadMutationRateLimit returns the limiter settings for state-changing
// endpoints. Defaults to 10 requests per 60s sliding window.
func LoadMutationRateLimit() RateLimitConfig {
	return loadRateLimit("MUTATION", "ratelimit:mutation", 10)
}

// LoadReadRateLimit returns the limiter settings for read endpoints.
// Defaults to 60 requests per 60s sliding window.
func LoadReadRateLimit() RateLimitConfig {
	return loadRateLimit("READ", "ratelimit:read", 60)
}

func loadRateLimit(class, prefix string, defLimit int) RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled: envBool("RATE_LIMIT_ENABLED", true),
		Limit:   envInt("RATE_LIMIT_"+class+"_LIMIT", defLimit),
		Window:  envDur("RATE_LIMIT_"+class+"_WINDOW", time.Minute),
		Prefix:  envStr("RATE_LIMIT_"+class+"_PREFIX", prefix),
		Debug:   envBool("RATE_LIMIT_DEBUG", false),
	}
	if cfg.Limit < 1 {
		cfg.Limit = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return cfg
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
