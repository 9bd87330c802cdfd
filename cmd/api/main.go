package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/openassoc/account-provisioning/internal/bootstrap"
	"github.com/openassoc/account-provisioning/internal/config"
	"github.com/openassoc/account-provisioning/internal/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zapLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		zapLogger.Fatal("failed to connect database", zap.Error(err))
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("failed to create pgx pool", zap.Error(err))
	}
	defer pool.Close()

	application := bootstrap.New(db, pool, cfg, zapLogger)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	application.Worker.Start(workerCtx)

	go func() {
		if err := application.Server.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Server.Shutdown(ctx); err != nil {
		zapLogger.Fatal("graceful shutdown failed", zap.Error(err))
	}
}
