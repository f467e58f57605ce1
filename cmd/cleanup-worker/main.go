package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/slot-waitlist-scheduling/internal/appointment"
	"github.com/hackgods/slot-waitlist-scheduling/internal/cleanup"
	"github.com/hackgods/slot-waitlist-scheduling/internal/config"
	"github.com/hackgods/slot-waitlist-scheduling/internal/db"
	"github.com/hackgods/slot-waitlist-scheduling/internal/logger"
	"github.com/hackgods/slot-waitlist-scheduling/internal/metrics"
	redisclient "github.com/hackgods/slot-waitlist-scheduling/internal/redis"
	"github.com/hackgods/slot-waitlist-scheduling/internal/stats"
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

	lg.Info("cleanup-worker starting up", zap.String("env", cfg.Env), zap.Duration("interval", cfg.CleanupInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		lg.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	lg.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		lg.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			lg.Warn("error closing redis", zap.Error(err))
		}
	}()
	lg.Info("connected to Redis")

	// Deleting rows changes the dashboard aggregates.
	dashboard := stats.NewService(stats.NewPgRepository(pgPool), rdb, cfg.StatsTTL, metrics.NewCollector("slot_waitlist_cleanup"), lg)
	svc := cleanup.NewService(appointment.NewPgRepository(pgPool), dashboard.Invalidate, lg)

	runOnce(rootCtx, svc, lg)

	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			lg.Info("shutdown signal received, stopping cleanup worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, lg)
		}
	}
}

func runOnce(ctx context.Context, svc *cleanup.Service, lg *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	start := time.Now()
	if _, err := svc.Run(runCtx); err != nil {
		lg.Error("cleanup run error", zap.Error(err))
		return
	}
	lg.Info("cleanup run complete", zap.Duration("took", time.Since(start)))
}
