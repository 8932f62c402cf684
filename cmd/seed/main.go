package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/medical-appointment-saga/internal/appointment"
	"github.com/hackgods/medical-appointment-saga/internal/broker"
	"github.com/hackgods/medical-appointment-saga/internal/config"
	"github.com/hackgods/medical-appointment-saga/internal/country"
	"github.com/hackgods/medical-appointment-saga/internal/logger"
	"github.com/hackgods/medical-appointment-saga/internal/notification"
	redisclient "github.com/hackgods/medical-appointment-saga/internal/redis"
)

func main() {
	count := flag.Int("n", 200, "appointments to book")
	insured := flag.Int("insured", 50, "distinct insured ids to spread bookings over")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, "seed")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		zl.Fatal("redis connection error", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	pub, err := broker.NewKafkaPublisher(cfg.KafkaBrokers)
	if err != nil {
		zl.Fatal("kafka publisher error", zap.Error(err))
	}
	defer func() { _ = pub.Close() }()

	svc := appointment.NewService(
		appointment.NewRedisRecordStore(rdb),
		notification.NewChannel(pub, zl),
		redisclient.NewRedisKeyLocker(rdb, cfg.LockTTL),
		nil,
		zl,
	)

	faker := gofakeit.New(0)
	insuredIDs := make([]string, *insured)
	for i := range insuredIDs {
		insuredIDs[i] = faker.Numerify("#####")
	}

	codes := make([]string, 0, len(country.All()))
	for _, c := range country.All() {
		codes = append(codes, c.String())
	}

	zl.Info("seeding appointments", zap.Int("count", *count), zap.Int("insured", len(insuredIDs)))

	booked := 0
	for i := 0; i < *count; i++ {
		in := appointment.BookInput{
			InsuredID:    insuredIDs[faker.Number(0, len(insuredIDs)-1)],
			ScheduleSlot: fakeSlot(faker),
			CountryCode:  faker.RandomString(codes),
		}
		appt, err := svc.Book(ctx, in)
		if err != nil {
			zl.Error("booking failed", zap.String("insured_id", in.InsuredID), zap.Error(err))
			continue
		}
		booked++
		if booked%50 == 0 {
			zl.Info("appointments seeded", zap.Int("booked", booked), zap.String("last_id", appt.ID))
		}
	}

	zl.Info("seed complete", zap.Int("booked", booked), zap.Int("failed", *count-booked))
}

// fakeSlot returns a numeric slot id or a composite slot, about half each.
func fakeSlot(faker *gofakeit.Faker) appointment.ScheduleSlot {
	if faker.Bool() {
		return appointment.NumericSlot(int64(faker.Number(1, 99999)))
	}
	now := time.Now().UTC()
	return appointment.CompositeSlot(appointment.SlotKey{
		ScheduleID:  int64(faker.Number(1, 99999)),
		CenterID:    int64(faker.Number(1, 40)),
		SpecialtyID: int64(faker.Number(1, 12)),
		MedicID:     int64(faker.Number(1, 300)),
		Date:        faker.DateRange(now, now.AddDate(0, 2, 0)).Truncate(30 * time.Minute).Format(time.RFC3339),
	})
}
