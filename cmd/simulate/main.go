package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/medical-appointment-saga/internal/config"
	"github.com/hackgods/medical-appointment-saga/internal/logger"
)

type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	BookingRatio   float64
	RetryRatio     float64 // share of bookings replayed with the same Idempotency-Key
	ReadRatio      float64
	InsuredCount   int
	CompletionWait time.Duration
}

// DataPool holds insured ids and the appointments booked so far.
type DataPool struct {
	Insured      []string
	mu           sync.RWMutex
	appointments []booked
}

type booked struct {
	ID       string
	BookedAt time.Time
}

func (dp *DataPool) AddAppointment(id string, at time.Time) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, booked{ID: id, BookedAt: at})
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

func (dp *DataPool) Snapshot() []booked {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make([]booked, len(dp.appointments))
	copy(out, dp.appointments)
	return out
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking       OperationMetrics
	Retry         OperationMetrics
	ReadByID      OperationMetrics
	ListByInsured OperationMetrics
	// Completion measures booking to "completed" as seen through the API.
	Completion OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     *zap.Logger
}

func main() {
	cfg := loadConfig()

	zl, err := logger.New(getEnv("LOG_LEVEL", "info"), "simulate")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := validateConfig(cfg); err != nil {
		zl.Fatal("invalid config", zap.Error(err))
	}

	zl.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking_ratio", cfg.BookingRatio),
		zap.Float64("read_ratio", cfg.ReadRatio),
	)

	faker := gofakeit.New(0)
	pool := &DataPool{Insured: make([]string, cfg.InsuredCount)}
	for i := range pool.Insured {
		pool.Insured[i] = faker.Numerify("#####")
	}

	sim := &Simulator{
		config: cfg,
		pool:   pool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    zl,
	}

	sim.Run()
	sim.AwaitCompletions()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	port := "8080"
	if base, err := config.Load(); err == nil {
		port = base.HTTPPort
	}

	cfg := SimConfig{
		APIBaseURL:     getEnv("SIM_API_BASE_URL", "http://localhost:"+port),
		Duration:       getDuration("SIM_DURATION", 30*time.Second),
		Workers:        getInt("SIM_WORKERS", 10),
		BookingRatio:   getFloat("SIM_BOOKING_RATIO", 0.6),
		RetryRatio:     getFloat("SIM_RETRY_RATIO", 0.1),
		ReadRatio:      getFloat("SIM_READ_RATIO", 0.4),
		InsuredCount:   getInt("SIM_INSURED_COUNT", 500),
		CompletionWait: getDuration("SIM_COMPLETION_WAIT", 30*time.Second),
	}

	total := cfg.BookingRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.InsuredCount <= 0 {
		return fmt.Errorf("SIM_INSURED_COUNT must be > 0")
	}
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	faker := gofakeit.New(uint64(rng.Int63()))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if rng.Float64() < s.config.BookingRatio {
				s.doBooking(ctx, rng, faker)
				continue
			}
			if rng.Intn(2) == 0 {
				s.doReadByID(ctx, rng)
			} else {
				s.doListByInsured(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, faker *gofakeit.Faker) {
	insuredID := s.pool.Insured[rng.Intn(len(s.pool.Insured))]

	var slot any = faker.Number(1, 99999)
	if faker.Bool() {
		slot = map[string]any{
			"scheduleId":  faker.Number(1, 99999),
			"centerId":    faker.Number(1, 40),
			"specialtyId": faker.Number(1, 12),
			"medicId":     faker.Number(1, 300),
			"date":        faker.FutureDate().UTC().Truncate(30 * time.Minute).Format(time.RFC3339),
		}
	}
	body, _ := json.Marshal(map[string]any{
		"insuredId":    insuredID,
		"scheduleSlot": slot,
		"countryCode":  faker.RandomString([]string{"PE", "CL"}),
	})
	key := uuid.NewString()

	start := time.Now()
	status, id := s.book(ctx, body, key)
	s.metrics.Booking.Record(time.Since(start), status == http.StatusCreated, status == http.StatusConflict)
	if status != http.StatusCreated {
		return
	}
	s.pool.AddAppointment(id, start)

	if rng.Float64() >= s.config.RetryRatio {
		return
	}
	start = time.Now()
	status, replayed := s.book(ctx, body, key)
	converged := status == http.StatusCreated && replayed == id
	if status == http.StatusCreated && !converged {
		s.log.Warn("idempotent retry produced a different appointment", zap.String("first", id), zap.String("second", replayed))
	}
	s.metrics.Retry.Record(time.Since(start), converged, status == http.StatusConflict)
}

func (s *Simulator) book(ctx context.Context, body []byte, key string) (int, string) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, ""
	}
	defer resp.Body.Close()

	var appt struct {
		ID string `json:"appointmentId"`
	}
	if resp.StatusCode == http.StatusCreated {
		_ = json.NewDecoder(resp.Body).Decode(&appt)
	}
	return resp.StatusCode, appt.ID
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _ := s.get(ctx, "/appointments/id/"+appt.ID)
	s.metrics.ReadByID.Record(time.Since(start), status == http.StatusOK, false)
}

func (s *Simulator) doListByInsured(ctx context.Context, rng *rand.Rand) {
	insuredID := s.pool.Insured[rng.Intn(len(s.pool.Insured))]

	start := time.Now()
	status, _ := s.get(ctx, "/appointments/"+insuredID)
	s.metrics.ListByInsured.Record(time.Since(start), status == http.StatusOK, false)
}

func (s *Simulator) get(ctx context.Context, path string) (int, string) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, ""
	}
	defer resp.Body.Close()

	var appt struct {
		Status string `json:"status"`
	}
	if resp.StatusCode == http.StatusOK && strings.HasPrefix(path, "/appointments/id/") {
		_ = json.NewDecoder(resp.Body).Decode(&appt)
	}
	return resp.StatusCode, appt.Status
}

// AwaitCompletions polls every booked appointment until the saga marks it
// completed or CompletionWait runs out.
func (s *Simulator) AwaitCompletions() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.CompletionWait)
	defer cancel()

	pending := s.pool.Snapshot()
	s.log.Info("waiting for completions", zap.Int("appointments", len(pending)))

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for len(pending) > 0 {
		next := pending[:0]
		for _, appt := range pending {
			status, st := s.get(ctx, "/appointments/id/"+appt.ID)
			if status == http.StatusOK && st == "completed" {
				s.metrics.Completion.Record(time.Since(appt.BookedAt), true, false)
				continue
			}
			next = append(next, appt)
		}
		pending = next

		select {
		case <-ctx.Done():
			for _, appt := range pending {
				s.metrics.Completion.Record(time.Since(appt.BookedAt), false, false)
			}
			s.log.Warn("appointments still pending", zap.Int("count", len(pending)))
			return
		case <-ticker.C:
		}
	}
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Idempotent retry", &s.metrics.Retry)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Insured", &s.metrics.ListByInsured)
	printOperationReport("Booked to completed", &s.metrics.Completion)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
