package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/refmetric/refmetric/internal/config"
	"github.com/refmetric/refmetric/internal/database"
	"github.com/refmetric/refmetric/internal/httpserver"
	"github.com/refmetric/refmetric/internal/metrics"
	"github.com/refmetric/refmetric/internal/middleware"
	"github.com/refmetric/refmetric/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg)
	defer logger.Sync()

	logger.Info("starting refmetric",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connections
	var db *database.PostgresDB
	var rdb *database.RedisDB

	db, err = database.NewPostgresDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Warn("PostgreSQL not available, using in-memory storage", zap.Error(err))
		db = nil
	} else {
		defer db.Close()
		logger.Info("connected to PostgreSQL")
	}

	rdb, err = database.NewRedisDB(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis not available, counters/leaderboard/notifications disabled", zap.Error(err))
		rdb = nil
	} else {
		defer rdb.Close()
		logger.Info("connected to Redis")
	}

	// Optional ClickHouse event archive
	var archive storage.EventStore
	if cfg.ClickHouse.Enabled {
		ch, err := storage.NewClickHouseEventStore(ctx, cfg.ClickHouse, logger)
		if err != nil {
			logger.Warn("ClickHouse not available, using primary event store", zap.Error(err))
		} else {
			if err := ch.InitSchema(ctx); err != nil {
				logger.Warn("ClickHouse schema init failed", zap.Error(err))
			} else {
				archive = ch
				logger.Info("connected to ClickHouse")
			}
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics("refmetric")
	}

	// Create HTTP server
	deps := &httpserver.Dependencies{
		DB:      db,
		Redis:   rdb,
		Archive: archive,
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
	}

	var handler http.Handler = httpserver.NewServer(deps)

	// Middleware chain: recovery outermost, then request logging, rate
	// limiting (shared buckets plus per-IP on the tracking ingress) and
	// API-key auth.
	authMw := middleware.NewAuthMiddleware(cfg.Auth, logger)
	rateMw := middleware.NewRateLimitMiddleware(cfg.RateLimit, logger)
	rateMw.SetMetrics(m)
	metricsMw := middleware.NewMetricsMiddleware(m)
	logMw := middleware.NewLoggingMiddleware(logger)
	recMw := middleware.NewRecoveryMiddleware(logger)
	handler = recMw.Handler(logMw.Handler(metricsMw.Handler(rateMw.Handler(rateMw.HandlerPerIP(authMw.Handler(handler))))))

	// Reset per-IP limiters periodically so the map stays bounded.
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rateMw.CleanupIPLimiters()
			case <-ctx.Done():
				return
			}
		}
	}()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func setupLogger(cfg *config.Config) *zap.Logger {
	var zapCfg zap.Config

	if cfg.IsDevelopment() {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Log.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}

	return logger
}
