package appointment

import "errors"

var (
	// ErrInvalidCountry rejects a booking before anything is written.
	ErrInvalidCountry = errors.New("invalid country code")
	// ErrNotificationFailure means the record was stored but the country
	// notification was not published; the appointment stays pending.
	ErrNotificationFailure = errors.New("appointment stored but notification failed")
	// ErrStoreUnavailable wraps transient record or ledger store failures.
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidScheduleSlot = errors.New("invalid schedule slot")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrIdempotencyConflict = errors.New("idempotency key reused with different booking details")
	ErrBookingInProgress   = errors.New("booking with this idempotency key is in progress, please retry")
	ErrInvalidTransition   = errors.New("invalid status transition")
)
