package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/medical-appointment-saga/internal/country"
	"github.com/hackgods/medical-appointment-saga/internal/metrics"
	redisclient "github.com/hackgods/medical-appointment-saga/internal/redis"
)

type BookInput struct {
	InsuredID    string
	ScheduleSlot ScheduleSlot
	CountryCode  string
	// IdempotencyKey makes retries converge on one appointment. Optional.
	IdempotencyKey string
}

type Service struct {
	records  RecordStore
	notifier Notifier
	locker   redisclient.Locker
	metrics  *metrics.Metrics
	log      *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewService(records RecordStore, notifier Notifier, locker redisclient.Locker, m *metrics.Metrics, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		records:  records,
		notifier: notifier,
		locker:   locker,
		metrics:  m,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// IdempotentID derives the appointment id for an insured's idempotency key.
func IdempotentID(insuredID, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:appointment:"+insuredID+":"+key)).String()
}

// Book validates the request, stores a pending appointment and then
// publishes it to the country's notification channel. Nothing is written
// when validation fails, and nothing is published when the write fails.
func (s *Service) Book(ctx context.Context, in BookInput) (*Appointment, error) {
	code, err := country.Parse(in.CountryCode)
	if err != nil {
		s.observe("invalid", metrics.OutcomeInvalid)
		return nil, fmt.Errorf("%w: %q", ErrInvalidCountry, in.CountryCode)
	}

	insuredID := strings.TrimSpace(in.InsuredID)
	if insuredID == "" {
		s.observe(code.String(), metrics.OutcomeInvalid)
		return nil, fmt.Errorf("%w: insuredId is required", ErrInvalidInput)
	}
	if in.ScheduleSlot.IsZero() {
		s.observe(code.String(), metrics.OutcomeInvalid)
		return nil, fmt.Errorf("%w: scheduleSlot is required", ErrInvalidScheduleSlot)
	}

	appt := Appointment{
		ID:           s.newID(),
		InsuredID:    insuredID,
		ScheduleSlot: in.ScheduleSlot,
		CountryCode:  code,
		Status:       StatusPending,
		CreatedAt:    s.now(),
	}

	if key := strings.TrimSpace(in.IdempotencyKey); key != "" {
		appt.ID = IdempotentID(insuredID, key)
		return s.bookIdempotent(ctx, appt)
	}
	return s.create(ctx, appt)
}

func (s *Service) create(ctx context.Context, appt Appointment) (*Appointment, error) {
	if err := s.records.Put(ctx, appt); err != nil {
		s.observe(appt.CountryCode.String(), metrics.OutcomeFailed)
		return nil, fmt.Errorf("store appointment: %w", err)
	}

	s.log.Info("appointment stored",
		zap.String("appointment_id", appt.ID),
		zap.String("insured_id", appt.InsuredID),
		zap.String("country", appt.CountryCode.String()),
	)

	if err := s.notify(ctx, appt); err != nil {
		return nil, err
	}

	s.observe(appt.CountryCode.String(), metrics.OutcomeOK)
	return &appt, nil
}

func (s *Service) notify(ctx context.Context, appt Appointment) error {
	if err := s.notifier.Notify(ctx, appt); err != nil {
		s.observe(appt.CountryCode.String(), metrics.OutcomeNotifyFailed)
		s.log.Error("notification failed, appointment left pending",
			zap.String("appointment_id", appt.ID),
			zap.String("country", appt.CountryCode.String()),
			zap.Error(err),
		)
		return fmt.Errorf("%w: appointment %s: %w", ErrNotificationFailure, appt.ID, err)
	}
	return nil
}

// bookIdempotent converges retries with the same key on one appointment.
// A retry after a notification failure re-publishes the stored record.
func (s *Service) bookIdempotent(ctx context.Context, appt Appointment) (*Appointment, error) {
	var result *Appointment

	run := func(ctx context.Context) error {
		existing, err := s.records.Get(ctx, appt.ID)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			s.observe(appt.CountryCode.String(), metrics.OutcomeFailed)
			return fmt.Errorf("load appointment: %w", err)
		}

		if existing == nil {
			created, err := s.create(ctx, appt)
			if err != nil {
				return err
			}
			result = created
			return nil
		}

		if existing.CountryCode != appt.CountryCode || !existing.ScheduleSlot.Equal(appt.ScheduleSlot) {
			return fmt.Errorf("%w: appointment %s", ErrIdempotencyConflict, existing.ID)
		}

		if existing.Status == StatusPending {
			if err := s.notify(ctx, *existing); err != nil {
				return err
			}
		}

		s.log.Info("idempotent booking replayed",
			zap.String("appointment_id", existing.ID),
			zap.String("status", string(existing.Status)),
		)
		s.observe(existing.CountryCode.String(), metrics.OutcomeReplayed)
		result = existing
		return nil
	}

	var err error
	if s.locker == nil {
		err = run(ctx)
	} else {
		err = s.locker.WithKeyLock(ctx, "booking:"+appt.ID, run)
	}
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrBookingInProgress
		}
		return nil, err
	}
	return result, nil
}

// ListByInsured returns every appointment of an insured, oldest first.
func (s *Service) ListByInsured(ctx context.Context, insuredID string) ([]Appointment, error) {
	insuredID = strings.TrimSpace(insuredID)
	if insuredID == "" {
		return nil, fmt.Errorf("%w: insuredId is required", ErrInvalidInput)
	}

	appointments, err := s.records.ListByInsured(ctx, insuredID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by insured: %w", err)
	}
	if appointments == nil {
		appointments = []Appointment{}
	}
	return appointments, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Appointment, error) {
	appt, err := s.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// SweepPolicy bounds one RepublishStalePending run.
type SweepPolicy struct {
	// OlderThan is how long an appointment stays pending, or how long since
	// its last re-notification, before it is due.
	OlderThan time.Duration
	// Limit caps the appointments looked at per run.
	Limit int64
	// MaxAttempts is the number of re-notifications after which an
	// appointment is abandoned and left to the dead-letter queues. 0 means
	// no cap.
	MaxAttempts int64
}

// RepublishStalePending re-notifies appointments still pending after
// p.OlderThan. Every attempt, successful or not, moves the appointment
// behind the others still due, and one that reaches p.MaxAttempts is no
// longer swept. It returns how many notifications were published.
func (s *Service) RepublishStalePending(ctx context.Context, p SweepPolicy) (int, error) {
	now := s.now()
	stale, err := s.records.ListStalePending(ctx, now.Add(-p.OlderThan), p.Limit)
	if err != nil {
		return 0, fmt.Errorf("find stale pending appointments: %w", err)
	}

	republished := 0
	for _, appt := range stale {
		log := s.log.With(zap.String("appointment_id", appt.ID), zap.String("country", appt.CountryCode.String()))

		if err := s.notifier.Notify(ctx, appt); err != nil {
			log.Error("failed to republish stale appointment", zap.Error(err))
		} else {
			republished++
			if s.metrics != nil {
				s.metrics.Republished.Inc()
			}
		}

		attempts, err := s.records.MarkRepublished(ctx, appt.ID, now)
		if err != nil {
			return republished, fmt.Errorf("record republish of %s: %w", appt.ID, err)
		}
		if p.MaxAttempts <= 0 || attempts < p.MaxAttempts {
			continue
		}

		if err := s.records.AbandonPending(ctx, appt.ID); err != nil {
			return republished, fmt.Errorf("abandon %s: %w", appt.ID, err)
		}
		log.Warn("appointment still pending after republish limit, no longer sweeping it", zap.Int64("attempts", attempts))
		if s.metrics != nil {
			s.metrics.Abandoned.Inc()
		}
	}
	return republished, nil
}

func (s *Service) observe(countryLabel, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Bookings.WithLabelValues(countryLabel, outcome).Inc()
}
