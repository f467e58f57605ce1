package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/slot-waitlist-scheduling/internal/api"
	"github.com/hackgods/slot-waitlist-scheduling/internal/appointment"
	"github.com/hackgods/slot-waitlist-scheduling/internal/auth"
	"github.com/hackgods/slot-waitlist-scheduling/internal/config"
	"github.com/hackgods/slot-waitlist-scheduling/internal/db"
	"github.com/hackgods/slot-waitlist-scheduling/internal/logger"
	"github.com/hackgods/slot-waitlist-scheduling/internal/metrics"
	"github.com/hackgods/slot-waitlist-scheduling/internal/notify"
	redisclient "github.com/hackgods/slot-waitlist-scheduling/internal/redis"
	"github.com/hackgods/slot-waitlist-scheduling/internal/stats"
	"github.com/hackgods/slot-waitlist-scheduling/internal/waitlist"
)

const version = "0.1.0"

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

	if err := run(cfg, lg); err != nil {
		lg.Fatal("api-server exited", zap.Error(err))
	}
}

func run(cfg config.Config, lg *zap.Logger) error {
	lg.Info("api-server starting up", zap.String("env", cfg.Env), zap.String("http_port", cfg.HTTPPort))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()

	applied, err := db.Migrate(rootCtx, pgPool)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	lg.Info("connected to Postgres", zap.Strings("migrations_applied", applied))

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			lg.Warn("error closing redis", zap.Error(err))
		}
	}()
	lg.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

	m := metrics.NewCollector("slot_waitlist")

	var sender notify.Sender
	if len(cfg.KafkaBrokers) > 0 {
		pub := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaNotificationTopic, lg)
		defer func() {
			if err := pub.Close(); err != nil {
				lg.Warn("error closing kafka writer", zap.Error(err))
			}
		}()
		sender = pub
		lg.Info("publishing notifications to kafka",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaNotificationTopic),
		)
	} else {
		sender = notify.NewLogSender(lg)
		lg.Info("no kafka brokers configured, logging notifications")
	}
	dispatcher := notify.NewDispatcher(sender, cfg.NotifyBuffer, m, lg)

	engine := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		db.NewTxManager(pgPool),
		waitlist.NewRedisQueue(rdb),
		redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, cfg.LockWait),
		dispatcher,
		m,
		lg,
	)
	dashboard := stats.NewService(stats.NewPgRepository(pgPool), rdb, cfg.StatsTTL, m, lg)
	engine.OnCommit(dashboard.Invalidate)

	router := api.NewRouter(api.RouterConfig{
		Service:      engine,
		Stats:        dashboard,
		Tokens:       auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer),
		Metrics:      m,
		Logger:       lg,
		Limiter:      api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		PostgresPing: pgPool.Ping,
		RedisPing:    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		lg.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
	}

	lg.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("http shutdown", zap.Error(err))
	}
	// in-flight requests are done; flush what they queued
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		lg.Warn("notification dispatcher did not drain", zap.Error(err))
	}
	return nil
}
