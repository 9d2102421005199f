package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/avelar/image-studio/internal/limiter"
)

// AdminHandler holds operator-only endpoints.
type AdminHandler struct {
	Quota  *limiter.DailyQuota
	Logger *zap.Logger
}

func NewAdminHandler(q *limiter.DailyQuota, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{Quota: q, Logger: logger}
}

// ResetQuota clears a user's daily generation counter, for support cases
// where a run burned quota without producing an image.
func (h *AdminHandler) ResetQuota(c echo.Context) error {
	uid, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil || uid == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	if err := h.Quota.Reset(c.Request().Context(), uid); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "quota store unavailable"})
	}

	admin, _ := currentUserID(c)
	h.Logger.Info("daily quota reset",
		zap.Uint64("admin_id", admin), zap.Uint64("user_id", uid))
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}
