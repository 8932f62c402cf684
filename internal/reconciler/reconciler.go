package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/medical-appointment-saga/internal/country"
	"github.com/hackgods/medical-appointment-saga/internal/event"
	"github.com/hackgods/medical-appointment-saga/internal/metrics"
	"github.com/hackgods/medical-appointment-saga/internal/queue"
)

type RecordStore interface {
	MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error)
}

type Ledger interface {
	MarkCompleted(ctx context.Context, code country.Code, id string, at time.Time) (int64, error)
}

// Reconciler applies completions to the record store and the ledger. Both
// updates are keyed by appointment id only, so replays are harmless.
type Reconciler struct {
	records RecordStore
	ledger  Ledger
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func New(records RecordStore, l Ledger, m *metrics.Metrics, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		records: records,
		ledger:  l,
		metrics: m,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile marks the appointment completed. An unknown id is a no-op, and
// the ledger is skipped for countries without a route.
func (r *Reconciler) Reconcile(ctx context.Context, c event.Completion) error {
	at := r.now()

	applied, err := r.records.MarkCompleted(ctx, c.AppointmentID, at)
	if err != nil {
		return fmt.Errorf("complete record %s: %w", c.AppointmentID, err)
	}
	if !applied {
		r.log.Warn("no record to complete", zap.String("appointment_id", c.AppointmentID))
	}

	code, err := country.Parse(c.CountryCode)
	if err != nil {
		r.log.Info("country has no ledger, skipping",
			zap.String("appointment_id", c.AppointmentID),
			zap.String("country", c.CountryCode),
		)
		return nil
	}

	rows, err := r.ledger.MarkCompleted(ctx, code, c.AppointmentID, at)
	if err != nil {
		return fmt.Errorf("complete ledger %s/%s: %w", code, c.AppointmentID, err)
	}

	r.log.Info("appointment completed",
		zap.String("appointment_id", c.AppointmentID),
		zap.String("country", code.String()),
		zap.Int64("ledger_rows", rows),
	)
	return nil
}

// HandleBatch reconciles messages in order. Malformed messages are dropped.
// The first failure stops the batch: that message and the rest are reported
// failed and come back from the queue.
func (r *Reconciler) HandleBatch(ctx context.Context, msgs []queue.Message) queue.BatchResult {
	var res queue.BatchResult

	for i, msg := range msgs {
		c, err := event.DecodeCompletion(msg.Body)
		if errors.Is(err, event.ErrMalformed) {
			r.log.Error("dropping malformed completion", zap.String("message_id", msg.ID), zap.Error(err))
			r.observe(metrics.OutcomeDropped)
			continue
		}
		if err == nil {
			err = r.Reconcile(ctx, c)
		}
		if err != nil {
			r.log.Error("reconcile failed",
				zap.String("message_id", msg.ID),
				zap.Int64("receive_count", msg.ReceiveCount),
				zap.Int("unprocessed", len(msgs)-i),
				zap.Error(err),
			)
			for _, rest := range msgs[i:] {
				res.Fail(rest.ID)
			}
			r.observe(metrics.OutcomeFailed)
			return res
		}
		r.observe(metrics.OutcomeOK)
	}
	return res
}

func (r *Reconciler) observe(outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.ReconcilerRuns.WithLabelValues(outcome).Inc()
}
