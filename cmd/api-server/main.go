package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hackgods/medical-appointment-saga/internal/api"
	"github.com/hackgods/medical-appointment-saga/internal/appointment"
	"github.com/hackgods/medical-appointment-saga/internal/broker"
	"github.com/hackgods/medical-appointment-saga/internal/config"
	"github.com/hackgods/medical-appointment-saga/internal/country"
	"github.com/hackgods/medical-appointment-saga/internal/logger"
	"github.com/hackgods/medical-appointment-saga/internal/metrics"
	"github.com/hackgods/medical-appointment-saga/internal/notification"
	redisclient "github.com/hackgods/medical-appointment-saga/internal/redis"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, "api-server")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := country.Validate(); err != nil {
		zl.Fatal("country routing table invalid", zap.Error(err))
	}

	zl.Info("api-server starting up", zap.String("env", cfg.Env), zap.String("http_port", cfg.HTTPPort))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		zl.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			zl.Error("error closing redis", zap.Error(err))
		}
	}()
	zl.Info("connected to Redis")

	pub, err := broker.NewKafkaPublisher(cfg.KafkaBrokers)
	if err != nil {
		zl.Fatal("kafka publisher error", zap.Error(err))
	}
	defer func() {
		if err := pub.Close(); err != nil {
			zl.Error("error closing kafka publisher", zap.Error(err))
		}
	}()

	m := metrics.New()
	svc := appointment.NewService(
		appointment.NewRedisRecordStore(rdb),
		notification.NewChannel(pub, zl),
		redisclient.NewRedisKeyLocker(rdb, cfg.LockTTL),
		m,
		zl,
	)

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		Checks: []api.Check{
			api.RedisCheck(rdb),
			{Name: "kafka", Ping: broker.NewPinger(cfg.KafkaBrokers).Ping},
		},
		Metrics: m.Handler(),
		Logger:  zl,
		Env:     cfg.Env,
		Version: version,
	})

	if err := api.Serve(rootCtx, ":"+cfg.HTTPPort, router, cfg.ShutdownTimeout, zl); err != nil {
		zl.Error("http server error", zap.Error(err))
	}

	zl.Info("api-server stopped")
}
