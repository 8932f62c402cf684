package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Completion is the payload published once an appointment reached its
// country ledger. CountryCode stays a plain string so a reconciler can
// still update the record store for codes it does not route.
type Completion struct {
	AppointmentID string          `json:"appointmentId"`
	InsuredID     string          `json:"insuredId"`
	CountryCode   string          `json:"countryCode"`
	ScheduleSlot  json.RawMessage `json:"scheduleSlot,omitempty"`
	Status        string          `json:"status,omitempty"`
	CreatedAt     time.Time       `json:"createdAt,omitempty"`
}

func (c Completion) Validate() error {
	if c.AppointmentID == "" {
		return fmt.Errorf("%w: completion without appointmentId", ErrMalformed)
	}
	return nil
}

// DecodeCompletion unwraps a bus message body into a Completion.
func DecodeCompletion(body []byte) (Completion, error) {
	env, err := Unwrap(body)
	if err != nil {
		return Completion{}, err
	}
	if env.DetailType != DetailTypeCompleted {
		return Completion{}, fmt.Errorf("%w: unexpected detail-type %q", ErrMalformed, env.DetailType)
	}
	var c Completion
	if err := env.Decode(&c); err != nil {
		return Completion{}, err
	}
	if err := c.Validate(); err != nil {
		return Completion{}, err
	}
	return c, nil
}
