package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/medical-appointment-saga/internal/appointment"
	"github.com/hackgods/medical-appointment-saga/internal/broker"
	"github.com/hackgods/medical-appointment-saga/internal/config"
	"github.com/hackgods/medical-appointment-saga/internal/country"
	"github.com/hackgods/medical-appointment-saga/internal/logger"
	"github.com/hackgods/medical-appointment-saga/internal/metrics"
	"github.com/hackgods/medical-appointment-saga/internal/notification"
	redisclient "github.com/hackgods/medical-appointment-saga/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, "pending-sweeper")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := country.Validate(); err != nil {
		zl.Fatal("country routing table invalid", zap.Error(err))
	}

	zl.Info("pending-sweeper starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.SweepInterval),
		zap.Duration("stale_after", cfg.StalePendingAfter),
		zap.Int64("batch_size", cfg.SweepBatchSize),
		zap.Int64("max_republishes", cfg.MaxRepublishes),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		zl.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			zl.Warn("error closing redis", zap.Error(err))
		}
	}()

	pub, err := broker.NewKafkaPublisher(cfg.KafkaBrokers)
	if err != nil {
		zl.Fatal("kafka publisher error", zap.Error(err))
	}
	defer func() { _ = pub.Close() }()

	svc := appointment.NewService(
		appointment.NewRedisRecordStore(rdb),
		notification.NewChannel(pub, zl),
		redisclient.NewRedisKeyLocker(rdb, cfg.LockTTL),
		metrics.New(),
		zl,
	)

	policy := appointment.SweepPolicy{
		OlderThan:   cfg.StalePendingAfter,
		Limit:       cfg.SweepBatchSize,
		MaxAttempts: cfg.MaxRepublishes,
	}
	runOnce(rootCtx, svc, policy, zl)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zl.Info("shutdown signal received, stopping pending sweeper")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, policy, zl)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, policy appointment.SweepPolicy, zl *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.RepublishStalePending(runCtx, policy)
	if err != nil {
		zl.Error("sweep run error", zap.Error(err))
		return
	}
	zl.Info("sweep run complete", zap.Int("republished", n), zap.Duration("took", time.Since(start)))
}
