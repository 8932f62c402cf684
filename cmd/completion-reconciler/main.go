package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/medical-appointment-saga/internal/api"
	"github.com/hackgods/medical-appointment-saga/internal/appointment"
	"github.com/hackgods/medical-appointment-saga/internal/broker"
	"github.com/hackgods/medical-appointment-saga/internal/bus"
	"github.com/hackgods/medical-appointment-saga/internal/config"
	"github.com/hackgods/medical-appointment-saga/internal/country"
	"github.com/hackgods/medical-appointment-saga/internal/ledger"
	"github.com/hackgods/medical-appointment-saga/internal/logger"
	"github.com/hackgods/medical-appointment-saga/internal/metrics"
	"github.com/hackgods/medical-appointment-saga/internal/queue"
	"github.com/hackgods/medical-appointment-saga/internal/reconciler"
	redisclient "github.com/hackgods/medical-appointment-saga/internal/redis"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, "completion-reconciler")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := country.Validate(); err != nil {
		zl.Fatal("country routing table invalid", zap.Error(err))
	}

	rule := bus.CompletedToReconciler
	zl.Info("completion-reconciler starting up",
		zap.String("bus_topic", cfg.BusTopic),
		zap.String("rule", rule.Name),
		zap.String("queue", rule.Queue),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		zl.Fatal("redis connection error", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	m := metrics.New()

	q, err := queue.NewRedisQueue(rootCtx, rdb, queue.Options{
		Name:     rule.Queue,
		Consumer: cfg.WorkerName(),
		Policy: queue.RedrivePolicy{
			MaxReceives:       cfg.QueueMaxReceives,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
		},
		Wait:    cfg.QueuePollInterval,
		Metrics: m,
		Logger:  zl,
	})
	if err != nil {
		zl.Fatal("queue init error", zap.Error(err))
	}

	reader, err := broker.NewKafkaReader(cfg.KafkaBrokers, cfg.ConsumerGroup(rule.Name), cfg.BusTopic)
	if err != nil {
		zl.Fatal("kafka reader error", zap.Error(err))
	}
	defer func() { _ = reader.Close() }()

	pools := ledger.RegistryFromConfig(cfg.Ledger, zl)
	defer pools.Close()
	ledgerStore := ledger.NewStore(pools, zl)

	subscription := broker.NewSubscription(broker.SubscriptionOptions{
		Name:    rule.Name,
		Reader:  reader,
		Target:  q,
		Queue:   q.Name(),
		Filter:  rule.Filter(),
		Metrics: m,
		Logger:  zl,
	})

	handler := reconciler.New(appointment.NewRedisRecordStore(rdb), ledgerStore, m, zl)
	poller := queue.NewPoller(q, handler, cfg.QueueBatchSize, cfg.QueuePollInterval, zl)

	ops := api.NewOpsRouter([]api.Check{
		api.RedisCheck(rdb),
		{Name: "kafka", Ping: broker.NewPinger(cfg.KafkaBrokers).Ping},
		{Name: "ledger", Ping: func(ctx context.Context) error { return ledgerStore.Ping(ctx) }},
	}, m.Handler(), cfg.Env, version)

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error { return subscription.Run(ctx) })
	g.Go(func() error { return poller.Run(ctx) })
	g.Go(func() error { return api.Serve(ctx, ":"+cfg.MetricsPort, ops, cfg.ShutdownTimeout, zl) })

	if err := g.Wait(); err != nil {
		zl.Error("completion-reconciler stopped with error", zap.Error(err))
		return
	}
	zl.Info("completion-reconciler stopped")
}
