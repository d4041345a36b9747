// Package main runs the background worker: transactional email, outbound
// webhook delivery, and the scheduled billing and invitation sweeps.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nimbushq/backend/config"
	"github.com/nimbushq/backend/internal/billing"
	"github.com/nimbushq/backend/internal/invitations"
	"github.com/nimbushq/backend/internal/notifications"
	"github.com/nimbushq/backend/internal/realtime"
	"github.com/nimbushq/backend/internal/webhooks"
	"github.com/nimbushq/backend/internal/worker"
	"github.com/nimbushq/backend/pkg/database"
	"github.com/nimbushq/backend/pkg/queue"
	"github.com/nimbushq/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jobQueue := queue.NewQueue(rdb.Client, logger)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)

	notifRepo := notifications.NewRepository(pool)
	notifier := notifications.NewService(notifRepo, redisPubSub, logger)

	webhookRepo := webhooks.NewRepository(pool)
	dispatcher := webhooks.NewDispatcher(webhookRepo, jobQueue, logger)

	invRepo := invitations.NewRepository(pool)
	billingRepo := billing.NewRepository(pool)

	mailer := worker.NewMailer(cfg.Email, pool, logger)
	processor := worker.NewProcessor(mailer, webhookRepo, jobQueue, logger)
	sweeper := worker.NewSweeper(invRepo, billingRepo, notifier, dispatcher, cfg.Billing.GracePeriodDays, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	if err := sweeper.Start(); err != nil {
		logger.Fatal("start sweeper", zap.Error(err))
	}
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	sweeper.Stop()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
