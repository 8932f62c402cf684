package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/medical-appointment-saga/internal/config"
	"github.com/hackgods/medical-appointment-saga/internal/country"
	"github.com/hackgods/medical-appointment-saga/internal/db"
	"github.com/hackgods/medical-appointment-saga/internal/ledger"
	"github.com/hackgods/medical-appointment-saga/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, "migrate")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	codes := country.All()
	if cfg.Country != "" {
		code, err := cfg.ConsumerCountry()
		if err != nil {
			zl.Fatal("invalid COUNTRY", zap.Error(err))
		}
		codes = []country.Code{code}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	creds, err := ledger.SecretFromConfig(cfg.Ledger).Credentials(ctx)
	if err != nil {
		zl.Fatal("ledger credentials error", zap.Error(err))
	}

	for _, code := range codes {
		database := cfg.Ledger.Databases[code]
		l := zl.With(zap.String("country", code.String()), zap.String("database", database))

		pool, err := db.ConnectPostgres(ctx, creds.DSN(database, cfg.Ledger.SSLMode), 1)
		if err != nil {
			l.Fatal("connect ledger", zap.Error(err))
		}

		err = ledger.Migrate(pool, code)
		pool.Close()
		if err != nil {
			l.Fatal("migrate ledger", zap.Error(err))
		}
		l.Info("ledger migrated")
	}
}
