// Package router wires handlers, auth and the per-class rate limiters onto
// the Echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/avelar/image-studio/internal/config"
	"github.com/avelar/image-studio/internal/handler"
	"github.com/avelar/image-studio/internal/limiter"
	"github.com/avelar/image-studio/internal/middleware"
)

// Deps collects everything route registration needs.
type Deps struct {
	Cfg      config.Config
	Redis    *redis.Client
	Auth     *handler.AuthHandler
	Studio   *handler.StudioHandler
	Gallery  *handler.GalleryHandler
	Stats    *handler.StatsHandler
	Admin    *handler.AdminHandler
	Mutation *limiter.Window
	Read     *limiter.Window
}

// Register mounts all routes. Endpoint classes: mutation routes share the
// tight sliding window, read routes the loose one; discovery and stats are
// additionally served from the response cache.
func Register(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)

	mutation := middleware.RateLimit(config.LoadMutationRateLimit(), d.Mutation)
	read := middleware.RateLimit(config.LoadReadRateLimit(), d.Read)
	cache := middleware.ResponseCache(config.LoadCacheConfig(), d.Redis)
	optionalAuth := middleware.OptionalJWTAuth(d.Cfg.JWTSecret)

	// Session endpoints. Register and login take the mutation window keyed
	// by IP since there is no user yet.
	auth := e.Group("/v1/auth")
	auth.POST("/register", d.Auth.Register, mutation)
	auth.POST("/login", d.Auth.Login, mutation)
	auth.POST("/refresh", d.Auth.Refresh, mutation)
	auth.POST("/logout", d.Auth.Logout, optionalAuth)

	// Public gallery. Detail lookups take an optional token so owners can
	// see their private records; everyone else gets 404 for those.
	e.GET("/v1/discovery", d.Gallery.Discovery, read, cache)
	e.GET("/v1/stats", d.Stats.Stats, read, cache)
	// Auth runs first so token-bearing requests are window-keyed by user
	// id, not by IP.
	e.GET("/v1/generations/:id", d.Gallery.Get, optionalAuth, read)

	// Authenticated studio endpoints.
	v1 := e.Group("/v1", middleware.JWTAuth(d.Cfg.JWTSecret))
	v1.GET("/me", d.Auth.Me)
	v1.POST("/optimize", d.Studio.Optimize, mutation)
	v1.POST("/generate", d.Studio.Generate, mutation)
	v1.GET("/quota", d.Studio.QuotaStatus, read)
	v1.GET("/history", d.Gallery.History, read)
	v1.PATCH("/generations/:id", d.Gallery.Update, mutation)
	v1.DELETE("/generations/:id", d.Gallery.Delete, mutation)

	admin := v1.Group("/admin", middleware.RequireRole("ADMIN"))
	admin.POST("/quota/:user_id/reset", d.Admin.ResetQuota)
}
