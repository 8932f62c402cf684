package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/medical-appointment-saga/internal/api"
	"github.com/hackgods/medical-appointment-saga/internal/broker"
	"github.com/hackgods/medical-appointment-saga/internal/bus"
	"github.com/hackgods/medical-appointment-saga/internal/config"
	"github.com/hackgods/medical-appointment-saga/internal/consumer"
	"github.com/hackgods/medical-appointment-saga/internal/country"
	"github.com/hackgods/medical-appointment-saga/internal/ledger"
	"github.com/hackgods/medical-appointment-saga/internal/logger"
	"github.com/hackgods/medical-appointment-saga/internal/metrics"
	"github.com/hackgods/medical-appointment-saga/internal/queue"
	redisclient "github.com/hackgods/medical-appointment-saga/internal/redis"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, "country-consumer")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := country.Validate(); err != nil {
		zl.Fatal("country routing table invalid", zap.Error(err))
	}
	code, err := cfg.ConsumerCountry()
	if err != nil {
		zl.Fatal("invalid COUNTRY", zap.Error(err))
	}
	route := code.Route()
	zl = zl.With(zap.String("country", code.String()))

	zl.Info("country-consumer starting up",
		zap.String("topic", route.Topic),
		zap.String("queue", route.Queue),
		zap.String("table", route.Table),
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
		Name:     route.Queue,
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

	reader, err := broker.NewKafkaReader(cfg.KafkaBrokers, cfg.ConsumerGroup("consumer-"+code.Lower()), route.Topic)
	if err != nil {
		zl.Fatal("kafka reader error", zap.Error(err))
	}
	defer func() { _ = reader.Close() }()

	pub, err := broker.NewKafkaPublisher(cfg.KafkaBrokers)
	if err != nil {
		zl.Fatal("kafka publisher error", zap.Error(err))
	}
	defer func() { _ = pub.Close() }()

	pools := ledger.RegistryFromConfig(cfg.Ledger, zl)
	defer pools.Close()
	ledgerStore := ledger.NewStore(pools, zl)

	subscription := broker.NewSubscription(broker.SubscriptionOptions{
		Name:    "notifications-" + code.Lower(),
		Reader:  reader,
		Target:  q,
		Queue:   q.Name(),
		Metrics: m,
		Logger:  zl,
	})

	completions := bus.New(pub, cfg.BusTopic, zl)
	zl.Info("publishing completions", zap.String("bus_topic", completions.Topic()))

	handler := consumer.New(code, ledgerStore, completions, cfg.ConsumerConcurrency, m, zl)
	poller := queue.NewPoller(q, handler, cfg.QueueBatchSize, cfg.QueuePollInterval, zl)

	ops := api.NewOpsRouter([]api.Check{
		api.RedisCheck(rdb),
		{Name: "kafka", Ping: broker.NewPinger(cfg.KafkaBrokers).Ping},
		{Name: "ledger", Ping: func(ctx context.Context) error { return ledgerStore.Ping(ctx, code) }},
	}, m.Handler(), cfg.Env, version)

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error { return subscription.Run(ctx) })
	g.Go(func() error { return poller.Run(ctx) })
	g.Go(func() error { return api.Serve(ctx, ":"+cfg.MetricsPort, ops, cfg.ShutdownTimeout, zl) })

	if err := g.Wait(); err != nil {
		zl.Error("country-consumer stopped with error", zap.Error(err))
		return
	}
	zl.Info("country-consumer stopped")
}
