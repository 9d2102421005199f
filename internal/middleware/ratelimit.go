package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/avelar/image-studio/internal/config"
	"github.com/avelar/image-studio/internal/limiter"
)

// Admitter is the slice of the sliding-window limiter this middleware
// needs. *limiter.Window satisfies it; tests substitute stubs.
type Admitter interface {
	Admit(ctx context.Context, identity string) (limiter.Verdict, error)
	Limit() int
}

// RateLimit enforces a per-user sliding window for one endpoint class.
// Redis outages fail open: the limiter protects against bursts, it is not
// an admission gate, and dropping traffic because the counting store is
// down would be worse than briefly not counting.
func RateLimit(cfg config.RateLimitConfig, win Admitter) echo.MiddlewareFunc {
	if !cfg.Enabled || win == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			verdict, err := win.Admit(c.Request().Context(), identity(c))
			if err != nil {
				if cfg.Debug || !errors.Is(err, limiter.ErrUnavailable) {
					c.Logger().Warnf("ratelimit %s: %v", cfg.Prefix, err)
				}
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(win.Limit()))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(verdict.Remaining, 10))

			if !verdict.Allowed {
				secs := int(verdict.RetryAfter.Seconds())
				if secs < 1 {
					secs = 1
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too_many_requests",
					"message":     "rate limit exceeded",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}
