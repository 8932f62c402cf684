package appointment

import (
	"context"
	"time"
)

// RecordStore is the key-value store of record for appointment status.
type RecordStore interface {
	// Put upserts the full appointment keyed by its id. Overwriting a stored
	// status with one it cannot transition to fails with ErrInvalidTransition.
	Put(ctx context.Context, appt Appointment) error
	Get(ctx context.Context, id string) (*Appointment, error)
	ListByInsured(ctx context.Context, insuredID string) ([]Appointment, error)

	// MarkCompleted sets status and updatedAt without an existence check.
	// A missing id is a no-op reported as applied=false.
	MarkCompleted(ctx context.Context, id string, at time.Time) (applied bool, err error)

	// Sweeper. ListStalePending returns pending appointments due for a
	// re-notification at or before before, least recently attempted first.
	ListStalePending(ctx context.Context, before time.Time, limit int64) ([]Appointment, error)
	// MarkRepublished counts a re-notification attempt and makes the
	// appointment due again relative to at. It returns the attempts so far,
	// or 0 when the appointment is no longer pending.
	MarkRepublished(ctx context.Context, id string, at time.Time) (attempts int64, err error)
	// AbandonPending stops sweeping id. Its record is left untouched.
	AbandonPending(ctx context.Context, id string) error
}

// Notifier publishes a stored appointment to its country's channel.
type Notifier interface {
	Notify(ctx context.Context, appt Appointment) error
}
