package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"exportalpha/internal/config"
	cronrunner "exportalpha/internal/cron"
	"exportalpha/internal/db"
	"exportalpha/internal/handler"
	"exportalpha/internal/logger"
	"exportalpha/internal/marketdata"
	gormrepository "exportalpha/internal/repository/gorm"
	"exportalpha/internal/run"

	_ "exportalpha/docs"
)

func main() {
	cfgPath := os.Getenv("EA_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("EA_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer dbConn.Close()

	if err := dbConn.SetTimezone(cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := dbConn.AutoMigrate(); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	cache := marketdata.NewCache(store, logger)
	registry := run.NewRegistry(logger)

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthHandler := &handler.HealthHandler{DB: dbConn}
	healthHandler.Register(engine)
	backtestHandler := &handler.BacktestHandler{
		Registry: registry,
		Repo:     store,
		Cache:    cache,
		Logger:   logger,
		Cfg:      cfg,
		BaseCtx:  ctx,
	}
	backtestHandler.Register(engine)
	progressHandler := &handler.ProgressHandler{Registry: registry, Logger: logger}
	progressHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		_, err = cronRunner.Add("data_health", cfg.Cron.DataHealth, func(ctx context.Context) {
			if err := dbConn.Ping(ctx); err != nil {
				logger.Warn("cron data health: db unreachable", zap.Error(err))
				return
			}
			counts, err := store.CountRows(ctx)
			if err != nil {
				logger.Warn("cron data health: count failed", zap.Error(err))
				return
			}
			fields := make([]zap.Field, 0, len(counts))
			for table, n := range counts {
				fields = append(fields, zap.Int64(table, n))
			}
			logger.Info("cron data health ok", fields...)
		})
		if err != nil {
			logger.Warn("cron register data health failed", zap.Error(err))
		}

		_, err = cronRunner.Add("cache_stats", cfg.Cron.CacheStats, func(ctx context.Context) {
			st := cache.Stats()
			logger.Info("cron cache stats",
				zap.Int("intraday_tables", st.IntradayTables),
				zap.Int("daily_tables", st.DailyTables),
				zap.Bool("index_loaded", st.IndexLoaded),
				zap.Bool("export_loaded", st.ExportLoaded))
		})
		if err != nil {
			logger.Warn("cron register cache stats failed", zap.Error(err))
		}

		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
