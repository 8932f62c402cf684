package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medical-appointment-saga/internal/country"
)

const (
	DetailTypeCreated   = "AppointmentCreated"
	DetailTypeCompleted = "AppointmentCompleted"

	sourcePrefix = "appointments"
)

// ErrMalformed marks a message that redelivery cannot fix.
var ErrMalformed = errors.New("malformed message")

// Envelope wraps a business payload travelling over the notification
// channel or the completion bus. Readers unwrap Detail before decoding.
type Envelope struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	DetailType string          `json:"detail-type"`
	Time       time.Time       `json:"time"`
	Detail     json.RawMessage `json:"detail"`
}

// Source is the event source name for a country, e.g. "appointments.pe".
func Source(code country.Code) string {
	return sourcePrefix + "." + code.Lower()
}

// New builds an envelope around detail.
func New(source, detailType string, detail any) (Envelope, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s detail: %w", detailType, err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Source:     source,
		DetailType: detailType,
		Time:       time.Now().UTC(),
		Detail:     raw,
	}, nil
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unwrap parses a message body into an envelope. Bodies that are not an
// envelope, or carry no detail, are reported as ErrMalformed.
func Unwrap(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	detail := bytes.TrimSpace(env.Detail)
	if len(detail) == 0 || bytes.Equal(detail, []byte("null")) {
		return Envelope{}, fmt.Errorf("%w: envelope %q has no detail", ErrMalformed, env.ID)
	}
	if env.DetailType == "" {
		return Envelope{}, fmt.Errorf("%w: envelope %q has no detail-type", ErrMalformed, env.ID)
	}
	return env, nil
}

// Decode unmarshals the detail into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Detail, v); err != nil {
		return fmt.Errorf("%w: decode %s detail: %v", ErrMalformed, e.DetailType, err)
	}
	return nil
}
