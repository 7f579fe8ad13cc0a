package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/aprovamais/studyplan-api/api/swagger"
	"github.com/aprovamais/studyplan-api/internal/handler"
	"github.com/aprovamais/studyplan-api/internal/middleware"
	"github.com/aprovamais/studyplan-api/internal/models"
	"github.com/aprovamais/studyplan-api/internal/repository"
	"github.com/aprovamais/studyplan-api/internal/service"
	"github.com/aprovamais/studyplan-api/pkg/cache"
	"github.com/aprovamais/studyplan-api/pkg/config"
	"github.com/aprovamais/studyplan-api/pkg/database"
	"github.com/aprovamais/studyplan-api/pkg/jobs"
	"github.com/aprovamais/studyplan-api/pkg/logger"
	corsmiddleware "github.com/aprovamais/studyplan-api/pkg/middleware/cors"
	reqidmiddleware "github.com/aprovamais/studyplan-api/pkg/middleware/requestid"
	"github.com/aprovamais/studyplan-api/pkg/storage"
)

// @title Study Plan API
// @version 1.0.0
// @description Cronograma generation engine: calendar partitioning, track allocation and plan statistics.
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, statistics caching disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	catalogRepo := repository.NewCatalogRepository(db)
	planRepo := repository.NewPlanRepository(db)
	weekRepo := repository.NewPlanWeekRepository(db)
	assignmentRepo := repository.NewPlanAssignmentRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Statistics.CacheTTL, logr, cfg.Statistics.CacheEnabled && redisClient != nil)
	authSvc := service.NewAuthService(cfg.JWT.Secret, logr)
	statsSvc := service.NewPlanStatsService(planRepo, weekRepo, assignmentRepo, catalogRepo, cacheSvc, logr, cfg.Planner, cfg.Statistics)
	generatorSvc := service.NewPlanGeneratorService(catalogRepo, planRepo, weekRepo, assignmentRepo, db, metrics, validate, logr, cfg.Planner)
	planSvc := service.NewPlanService(planRepo, weekRepo, assignmentRepo, db, statsSvc, validate, logr, cfg.Planner)

	planHandler := handler.NewPlanHandler(generatorSvc, planSvc, statsSvc)

	var exportHandler *handler.ExportHandler
	if cfg.Exports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportJobRepo := repository.NewExportJobRepository(db)
		exporterSvc := service.NewExportService(planRepo, weekRepo, assignmentRepo, store, signer, cfg.Planner, cfg.APIPrefix, cfg.Exports.SignedURLTTL, logr, nil, nil)
		worker := service.NewExportWorker(exportJobRepo, exporterSvc, metrics, cfg.Exports.WorkerRetries, logr)
		queue := jobs.NewQueue("plan-exports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})
		queue.Start(ctx)
		defer queue.Stop()

		exportSvc := service.NewPlanExportService(exportJobRepo, planRepo, queue, exporterSvc, logr, service.PlanExportConfig{
			ResultTTL:       cfg.Exports.SignedURLTTL,
			CleanupInterval: cfg.Exports.CleanupInterval,
			MaxRetries:      cfg.Exports.WorkerRetries,
		})
		exportSvc.RecoverPendingJobs(ctx)
		exportSvc.StartCleanup(ctx)
		exportHandler = handler.NewExportHandler(exportSvc)
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(authSvc))
	api.Use(middleware.RequireRoles(models.RoleStudent, models.RoleAdmin))

	plans := api.Group("/plans")
	{
		plans.POST("", planHandler.Generate)
		plans.GET("", planHandler.List)
		plans.GET("/:id", planHandler.Get)
		plans.DELETE("/:id", planHandler.Delete)
		plans.PUT("/:id/week-days", planHandler.UpdateWeekDays)
		plans.GET("/:id/statistics", planHandler.Statistics)
		if exportHandler != nil {
			plans.POST("/:id/exports", exportHandler.Create)
		}
	}

	if exportHandler != nil {
		exports := api.Group("/exports")
		exports.GET("/:id", exportHandler.Status)
		r.GET(cfg.APIPrefix+"/exports/download/:token", exportHandler.Download)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		<-ctx.Done()
		logr.Sugar().Infow("shutting down")
		_ = srv.Shutdown(context.Background())
	}()

	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
