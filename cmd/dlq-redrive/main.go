package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/medical-appointment-saga/internal/bus"
	"github.com/hackgods/medical-appointment-saga/internal/config"
	"github.com/hackgods/medical-appointment-saga/internal/country"
	"github.com/hackgods/medical-appointment-saga/internal/logger"
	"github.com/hackgods/medical-appointment-saga/internal/queue"
	redisclient "github.com/hackgods/medical-appointment-saga/internal/redis"
)

func main() {
	maxMoves := flag.Int64("max", 1000, "maximum messages to move back per queue")
	only := flag.String("queue", "", "redrive a single queue instead of all of them")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, "dlq-redrive")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		zl.Fatal("redis connection error", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	names := []string{bus.CompletedToReconciler.Queue}
	for _, code := range country.All() {
		names = append(names, code.Route().Queue)
	}
	if *only != "" {
		names = []string{*only}
	}

	total := 0
	for _, name := range names {
		q, err := queue.NewRedisQueue(ctx, rdb, queue.Options{
			Name:     name,
			Consumer: cfg.WorkerName(),
			Policy: queue.RedrivePolicy{
				MaxReceives:       cfg.QueueMaxReceives,
				VisibilityTimeout: cfg.QueueVisibilityTimeout,
			},
			Logger: zl,
		})
		if err != nil {
			zl.Fatal("queue init error", zap.String("queue", name), zap.Error(err))
		}

		n, err := q.Redrive(ctx, *maxMoves)
		if err != nil {
			zl.Fatal("redrive failed", zap.String("queue", name), zap.Int("moved", n), zap.Error(err))
		}
		zl.Info("queue redriven", zap.String("queue", name), zap.Int("moved", n))
		total += n
	}
	zl.Info("redrive complete", zap.Int("moved", total))
}
