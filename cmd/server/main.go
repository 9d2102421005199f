package main

import (
	"log"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/avelar/image-studio/internal/config"
	"github.com/avelar/image-studio/internal/database"
	"github.com/avelar/image-studio/internal/glm"
	"github.com/avelar/image-studio/internal/handler"
	"github.com/avelar/image-studio/internal/limiter"
	"github.com/avelar/image-studio/internal/logger"
	"github.com/avelar/image-studio/internal/queue"
	"github.com/avelar/image-studio/internal/queue_publisher"
	"github.com/avelar/image-studio/internal/repository"
	"github.com/avelar/image-studio/internal/router"
	"github.com/avelar/image-studio/internal/service"
	"github.com/avelar/image-studio/internal/storage"

	_ "github.com/go-sql-driver/mysql"
)

func main() {
	cfg := config.Load()

	zlog, err := logger.New(cfg.Env, "")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zlog.Sync()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		zlog.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	// Redis backs the rate limiters, the daily quota, the single-flight
	// lock and the response cache. A nil client degrades all of them.
	rdb := config.NewRedisClient()
	if rdb == nil {
		zlog.Warn("redis unavailable, limiters and cache disabled")
	}

	objects, err := storage.NewS3Store(cfg.S3)
	if err != nil {
		zlog.Fatal("init object storage", zap.Error(err))
	}

	upstream := glm.NewClient(cfg.GLM, zlog)

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	generations := repository.NewGenerationRepo(db)
	moderation := repository.NewModerationRepo(db)

	mutCfg := config.LoadMutationRateLimit()
	readCfg := config.LoadReadRateLimit()
	mutationWin := limiter.NewWindow(rdb, mutCfg.Prefix, mutCfg.Limit, mutCfg.Window)
	readWin := limiter.NewWindow(rdb, readCfg.Prefix, readCfg.Limit, readCfg.Window)
	quota := limiter.NewDailyQuota(rdb, cfg.GLM.DailyLimit)
	flight := limiter.NewSingleFlight(rdb, 2*cfg.GLM.RequestTimeout)

	pipeline := service.NewPipeline(upstream, generations, moderation, quota, flight,
		objects, queue_publisher.PublishGenerationCompleted, cfg.GLM.ImageModel, zlog)

	go func() {
		if err := queue.StartGenerationConsumer(); err != nil {
			zlog.Warn("generation consumer stopped", zap.Error(err))
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	router.Register(e, router.Deps{
		Cfg:      cfg,
		Redis:    rdb,
		Auth:     handler.NewAuthHandler(cfg, users, tokens),
		Studio:   handler.NewStudioHandler(pipeline, quota, zlog),
		Gallery:  handler.NewGalleryHandler(generations, objects, zlog),
		Stats:    handler.NewStatsHandler(generations, zlog),
		Admin:    handler.NewAdminHandler(quota, zlog),
		Mutation: mutationWin,
		Read:     readWin,
	})

	addr := ":" + cfg.Port
	zlog.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
	if err := e.Start(addr); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}
