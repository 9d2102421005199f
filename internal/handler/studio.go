package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/avelar/image-studio/internal/glm"
	"github.com/avelar/image-studio/internal/limiter"
	"github.com/avelar/image-studio/internal/service"
)

// StudioHandler serves the generation endpoints: optimize, generate and the
// quota readout.
type StudioHandler struct {
	Pipeline *service.Pipeline
	Quota    *limiter.DailyQuota
	Logger   *zap.Logger
}

func NewStudioHandler(p *service.Pipeline, q *limiter.DailyQuota, logger *zap.Logger) *StudioHandler {
	return &StudioHandler{Pipeline: p, Quota: q, Logger: logger}
}

type generateReq struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style"`
	Ratio  string `json:"ratio"`
}

type optimizeReq struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style"`
}

// Generate runs the full pipeline and returns the finished image.
func (h *StudioHandler) Generate(c echo.Context) error {
	uid, ok := currentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req generateReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	res, err := h.Pipeline.Run(c.Request().Context(), service.Request{
		UserID: uid,
		Prompt: req.Prompt,
		Style:  req.Style,
		Ratio:  req.Ratio,
	})
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"generationId":   res.GenerationID,
		"imageUrl":       res.ImageURL,
		"betterPrompt":   res.BetterPrompt,
		"size":           res.Size,
		"durationMs":     res.DurationMS,
		"quotaRemaining": res.QuotaRemaining,
	})
}

// Optimize runs only the prompt-optimization stage.
func (h *StudioHandler) Optimize(c echo.Context) error {
	uid, ok := currentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req optimizeReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	better, err := h.Pipeline.OptimizeOnly(c.Request().Context(), uid, req.Prompt, req.Style)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"betterPrompt":   better,
		"originalPrompt": req.Prompt,
	})
}

// QuotaStatus reports today's usage without consuming a unit.
func (h *StudioHandler) QuotaStatus(c echo.Context) error {
	uid, ok := currentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	count, err := h.Quota.Count(c.Request().Context(), uid)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "quota store unavailable"})
	}
	remaining := int64(h.Quota.Limit()) - count
	if remaining < 0 {
		remaining = 0
	}
	return c.JSON(http.StatusOK, echo.Map{
		"used":      count,
		"remaining": remaining,
		"limit":     h.Quota.Limit(),
	})
}

// writeError maps pipeline errors onto HTTP statuses.
func (h *StudioHandler) writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidPrompt):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "prompt is required and must be at most 3000 characters"})
	case errors.Is(err, service.ErrInFlight):
		return c.JSON(http.StatusConflict, echo.Map{"error": "a generation is already in progress"})
	case errors.Is(err, service.ErrQuotaExceeded):
		secs := limiter.SecondsUntilReset(time.Now())
		c.Response().Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		return c.JSON(http.StatusTooManyRequests, echo.Map{
			"error":       "daily_limit_exceeded",
			"message":     "daily generation limit reached, resets at midnight UTC",
			"retry_after": secs,
		})
	case errors.Is(err, glm.ErrPolicyViolation):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "prompt was rejected by the content policy"})
	case errors.Is(err, glm.ErrUpstream), errors.Is(err, glm.ErrEmptyResponse):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "image service unavailable, try again later"})
	default:
		h.Logger.Error("generation failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
