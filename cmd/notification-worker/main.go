package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/slot-waitlist-scheduling/internal/config"
	"github.com/hackgods/slot-waitlist-scheduling/internal/db"
	"github.com/hackgods/slot-waitlist-scheduling/internal/logger"
	"github.com/hackgods/slot-waitlist-scheduling/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if len(cfg.KafkaBrokers) == 0 {
		lg.Fatal("KAFKA_BROKERS is required for the notification worker")
	}

	lg.Info("notification-worker starting up",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaNotificationTopic),
		zap.String("group", cfg.KafkaConsumerGroup),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		lg.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()

	if _, err := db.Migrate(rootCtx, pgPool); err != nil {
		lg.Fatal("migrate", zap.Error(err))
	}

	consumer := notify.NewConsumer(
		cfg.KafkaBrokers,
		cfg.KafkaNotificationTopic,
		cfg.KafkaConsumerGroup,
		notify.NewLogSender(lg),
		notify.NewPgLogStore(pgPool),
		lg,
	)
	defer func() {
		if err := consumer.Close(); err != nil {
			lg.Warn("error closing kafka reader", zap.Error(err))
		}
	}()

	if err := consumer.Run(rootCtx); err != nil {
		lg.Error("consumer stopped", zap.Error(err))
		return
	}
	lg.Info("shutdown signal received, notification worker stopped")
}
