package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/medical-appointment-saga/internal/appointment"
	"github.com/hackgods/medical-appointment-saga/internal/country"
	"github.com/hackgods/medical-appointment-saga/internal/event"
	"github.com/hackgods/medical-appointment-saga/internal/ledger"
	"github.com/hackgods/medical-appointment-saga/internal/metrics"
	"github.com/hackgods/medical-appointment-saga/internal/notification"
	"github.com/hackgods/medical-appointment-saga/internal/queue"
)

type Ledger interface {
	Insert(ctx context.Context, e ledger.Entry) error
}

type CompletionPublisher interface {
	PublishCompleted(ctx context.Context, c event.Completion) error
}

// Consumer moves a country's new appointments into its ledger and announces
// them on the completion bus.
type Consumer struct {
	country     country.Code
	ledger      Ledger
	bus         CompletionPublisher
	concurrency int
	metrics     *metrics.Metrics
	log         *zap.Logger
}

func New(code country.Code, l Ledger, bus CompletionPublisher, concurrency int, m *metrics.Metrics, log *zap.Logger) *Consumer {
	if concurrency <= 0 {
		concurrency = 10
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		country:     code,
		ledger:      l,
		bus:         bus,
		concurrency: concurrency,
		metrics:     m,
		log:         log.With(zap.String("country", code.String())),
	}
}

// HandleBatch processes every message concurrently and waits for all of
// them. Malformed messages are dropped; a message whose ledger insert or
// completion publish failed is reported so the queue redelivers it.
func (c *Consumer) HandleBatch(ctx context.Context, msgs []queue.Message) queue.BatchResult {
	var (
		mu  sync.Mutex
		res queue.BatchResult
		g   errgroup.Group
	)
	g.SetLimit(c.concurrency)

	for _, msg := range msgs {
		g.Go(func() error {
			if err := c.Process(ctx, msg.Body); err != nil {
				c.log.Error("message failed, leaving it for redelivery",
					zap.String("message_id", msg.ID),
					zap.Int64("receive_count", msg.ReceiveCount),
					zap.Error(err),
				)
				mu.Lock()
				res.Fail(msg.ID)
				mu.Unlock()
			}
			// never cancel siblings
			return nil
		})
	}
	_ = g.Wait()
	return res
}

// Process handles one notification body. It returns nil for messages it
// dropped as malformed.
func (c *Consumer) Process(ctx context.Context, body []byte) error {
	appt, err := notification.Decode(body)
	if err == nil && appt.CountryCode != c.country {
		err = fmt.Errorf("%w: %s appointment on the %s queue", event.ErrMalformed, appt.CountryCode, c.country)
	}
	if err != nil {
		if errors.Is(err, event.ErrMalformed) {
			c.log.Error("dropping malformed message", zap.Error(err))
			c.observe(metrics.OutcomeDropped)
			return nil
		}
		c.observe(metrics.OutcomeFailed)
		return err
	}

	if err := c.ledger.Insert(ctx, ledgerEntry(appt)); err != nil {
		c.observe(metrics.OutcomeFailed)
		return fmt.Errorf("ledger insert %s: %w", appt.ID, err)
	}

	if err := c.bus.PublishCompleted(ctx, completion(appt)); err != nil {
		c.observe(metrics.OutcomeFailed)
		return fmt.Errorf("publish completion %s: %w", appt.ID, err)
	}

	c.log.Info("appointment recorded in ledger",
		zap.String("appointment_id", appt.ID),
		zap.String("insured_id", appt.InsuredID),
	)
	c.observe(metrics.OutcomeOK)
	return nil
}

func ledgerEntry(a appointment.Appointment) ledger.Entry {
	return ledger.Entry{
		AppointmentID: a.ID,
		InsuredID:     a.InsuredID,
		ScheduleSlot:  a.ScheduleSlot.Raw(),
		CountryCode:   a.CountryCode,
		Status:        string(a.Status),
		CreatedAt:     a.CreatedAt,
	}
}

func completion(a appointment.Appointment) event.Completion {
	return event.Completion{
		AppointmentID: a.ID,
		InsuredID:     a.InsuredID,
		CountryCode:   a.CountryCode.String(),
		ScheduleSlot:  a.ScheduleSlot.Raw(),
		Status:        string(a.Status),
		CreatedAt:     a.CreatedAt,
	}
}

func (c *Consumer) observe(outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.ConsumerResults.WithLabelValues(c.country.String(), outcome).Inc()
}
