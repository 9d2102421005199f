package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/avelar/image-studio/internal/repository"
	"github.com/avelar/image-studio/internal/storage"
)

// GalleryHandler serves history, discovery and per-record operations.
type GalleryHandler struct {
	Generations *repository.GenerationRepo
	Objects     storage.ObjectStore
	Logger      *zap.Logger
}

func NewGalleryHandler(g *repository.GenerationRepo, objects storage.ObjectStore, logger *zap.Logger) *GalleryHandler {
	return &GalleryHandler{Generations: g, Objects: objects, Logger: logger}
}

// History returns the caller's generations, newest first.
func (h *GalleryHandler) History(c echo.Context) error {
	uid, ok := currentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	page, limit, ok := pageParams(c, 10)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid query parameters"})
	}
	offset := (page - 1) * limit

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	items, total, err := h.Generations.ListByUser(ctx, uid, limit, offset)
	if err != nil {
		h.Logger.Error("list history failed", zap.Uint64("user_id", uid), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	views := make([]generationView, 0, len(items))
	for _, g := range items {
		views = append(views, toView(g))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"generations": views,
		"total":       total,
		"page":        page,
		"limit":       limit,
		"hasMore":     offset+len(items) < total,
	})
}

// Discovery returns the public feed. No auth; user ids never appear in the
// payload.
func (h *GalleryHandler) Discovery(c echo.Context) error {
	page, limit, ok := pageParams(c, 20)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid query parameters"})
	}
	sort := c.QueryParam("sort")
	switch sort {
	case "", "newest", "oldest":
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid query parameters"})
	}
	offset := (page - 1) * limit

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	items, total, err := h.Generations.ListPublic(ctx, limit, offset, sort == "oldest")
	if err != nil {
		h.Logger.Error("list discovery failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	views := make([]publicGenerationView, 0, len(items))
	for _, g := range items {
		views = append(views, toPublicView(g))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"generations": views,
		"total":       total,
		"page":        page,
		"limit":       limit,
		"hasMore":     offset+len(items) < total,
	})
}

// Get returns one generation. Private records are visible to their owner
// only; for everyone else they are indistinguishable from missing ones.
func (h *GalleryHandler) Get(c echo.Context) error {
	id := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	g, err := h.Generations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "generation not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	if !g.IsPublic {
		uid, ok := currentUserID(c)
		if !ok || uid != g.UserID {
			// Do not reveal that a private record exists.
			return c.JSON(http.StatusNotFound, echo.Map{"error": "generation not found"})
		}
		return c.JSON(http.StatusOK, toView(g))
	}
	return c.JSON(http.StatusOK, toPublicView(g))
}

type updateGenerationReq struct {
	IsPublic *bool `json:"isPublic"`
}

// Update toggles a generation's visibility. Owner only.
func (h *GalleryHandler) Update(c echo.Context) error {
	uid, ok := currentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")

	var req updateGenerationReq
	if err := c.Bind(&req); err != nil || req.IsPublic == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "isPublic is required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	if err := h.Generations.SetPublic(ctx, id, uid, *req.IsPublic); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "generation not found"})
		case errors.Is(err, repository.ErrForbidden):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "you can only update your own generations"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
		}
	}

	h.Logger.Info("generation visibility changed",
		zap.Uint64("user_id", uid), zap.String("generation_id", id),
		zap.Bool("is_public", *req.IsPublic))
	return c.JSON(http.StatusOK, echo.Map{"id": id, "isPublic": *req.IsPublic})
}

// Delete removes a generation. The stored image goes first; a storage
// failure is logged and the row is removed anyway.
func (h *GalleryHandler) Delete(c echo.Context) error {
	uid, ok := currentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	g, err := h.Generations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "generation not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if g.UserID != uid {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "you can only delete your own generations"})
	}

	if err := h.Objects.Delete(ctx, storage.ImageKey(uid, id)); err != nil {
		h.Logger.Warn("storage delete failed, removing row anyway",
			zap.String("generation_id", id), zap.Error(err))
	}

	if err := h.Generations.DeleteByIDAndOwner(ctx, id, uid); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete failed"})
	}

	h.Logger.Info("generation deleted",
		zap.Uint64("user_id", uid), zap.String("generation_id", id))
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}
