package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/medical-appointment-saga/internal/country"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusCompleted AppointmentStatus = "completed"
)

// CanTransition reports whether a status change is allowed.
// pending -> completed is the only edge; completed is terminal.
func (s AppointmentStatus) CanTransition(to AppointmentStatus) bool {
	return s == StatusPending && to == StatusCompleted
}

func (s AppointmentStatus) Valid() bool {
	return s == StatusPending || s == StatusCompleted
}

// Appointment is the aggregate carried through every hop of the saga.
type Appointment struct {
	ID           string            `json:"appointmentId"`
	InsuredID    string            `json:"insuredId"`
	ScheduleSlot ScheduleSlot      `json:"scheduleSlot"`
	CountryCode  country.Code      `json:"countryCode"`
	Status       AppointmentStatus `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    *time.Time        `json:"updatedAt,omitempty"`
}

// Validate checks an appointment decoded from a message or a store.
func (a Appointment) Validate() error {
	switch {
	case strings.TrimSpace(a.ID) == "":
		return fmt.Errorf("%w: appointmentId is required", ErrInvalidInput)
	case strings.TrimSpace(a.InsuredID) == "":
		return fmt.Errorf("%w: insuredId is required", ErrInvalidInput)
	case a.ScheduleSlot.IsZero():
		return fmt.Errorf("%w: scheduleSlot is required", ErrInvalidScheduleSlot)
	case !a.CountryCode.Supported():
		return fmt.Errorf("%w: %q", ErrInvalidCountry, string(a.CountryCode))
	case !a.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, string(a.Status))
	case a.CreatedAt.IsZero():
		return fmt.Errorf("%w: createdAt is required", ErrInvalidInput)
	}
	return nil
}
