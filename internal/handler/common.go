package handler

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/avelar/image-studio/internal/model"
)

// dbTimeout bounds every repository call made from a handler.
const dbTimeout = 5 * time.Second

// currentUserID reads the authenticated user id that JWTAuth stored in the
// context. The jwt library decodes numeric claims as float64.
func currentUserID(c echo.Context) (uint64, bool) {
	switch v := c.Get("user_id").(type) {
	case float64:
		return uint64(v), v > 0
	case uint64:
		return v, v > 0
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		return n, err == nil && n > 0
	}
	return 0, false
}

// generationView is the owner-facing JSON shape of a generation record.
type generationView struct {
	ID             string    `json:"id"`
	ImageURL       string    `json:"imageUrl"`
	OriginalPrompt string    `json:"originalPrompt"`
	BetterPrompt   string    `json:"betterPrompt"`
	Model          string    `json:"model"`
	Style          string    `json:"style,omitempty"`
	AspectRatio    string    `json:"aspectRatio"`
	Size           string    `json:"size"`
	IsPublic       bool      `json:"isPublic"`
	DurationMS     int64     `json:"generationDuration"`
	CreatedAt      time.Time `json:"createdAt"`
}

// publicGenerationView is the same record with ownership and visibility
// stripped, served on discovery and public detail lookups.
type publicGenerationView struct {
	ID             string    `json:"id"`
	ImageURL       string    `json:"imageUrl"`
	OriginalPrompt string    `json:"originalPrompt"`
	BetterPrompt   string    `json:"betterPrompt"`
	Model          string    `json:"model"`
	Style          string    `json:"style,omitempty"`
	AspectRatio    string    `json:"aspectRatio"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toView(g model.Generation) generationView {
	return generationView{
		ID:             g.ID,
		ImageURL:       g.ImageURL,
		OriginalPrompt: g.OriginalPrompt,
		BetterPrompt:   g.BetterPrompt,
		Model:          g.Model,
		Style:          g.Style,
		AspectRatio:    g.Ratio,
		Size:           g.Size,
		IsPublic:       g.IsPublic,
		DurationMS:     g.DurationMS,
		CreatedAt:      g.CreatedAt,
	}
}

func toPublicView(g model.Generation) publicGenerationView {
	return publicGenerationView{
		ID:             g.ID,
		ImageURL:       g.ImageURL,
		OriginalPrompt: g.OriginalPrompt,
		BetterPrompt:   g.BetterPrompt,
		Model:          g.Model,
		Style:          g.Style,
		AspectRatio:    g.Ratio,
		CreatedAt:      g.CreatedAt,
	}
}

// pageParams parses page/limit query values with the standard bounds.
func pageParams(c echo.Context, defLimit int) (page, limit int, ok bool) {
	page, limit = 1, defLimit
	if v := c.QueryParam("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, false
		}
		page = n
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 50 {
			return 0, 0, false
		}
		limit = n
	}
	return page, limit, true
}
