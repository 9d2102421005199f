package middleware

import (
	"fmt"

	"github.com/labstack/echo/v4"
)

// identity returns the rate-limit key for the current request: the
// authenticated user id when present, the client IP otherwise.
func identity(c echo.Context) string {
	if v := c.Get("user_id"); v != nil {
		return fmt.Sprintf("user:%v", v)
	}
	if ip := c.RealIP(); ip != "" {
		return "ip:" + ip
	}
	return "anon"
}
