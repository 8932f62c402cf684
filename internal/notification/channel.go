package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hackgods/medical-appointment-saga/internal/appointment"
	"github.com/hackgods/medical-appointment-saga/internal/event"
)

// Publisher writes one keyed message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Channel announces new appointments on their country's topic.
type Channel struct {
	pub Publisher
	log *zap.Logger
}

func NewChannel(pub Publisher, log *zap.Logger) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{pub: pub, log: log}
}

// Notify publishes an AppointmentCreated envelope keyed by the appointment id.
func (c *Channel) Notify(ctx context.Context, appt appointment.Appointment) error {
	if !appt.CountryCode.Supported() {
		return fmt.Errorf("%w: %q", appointment.ErrInvalidCountry, string(appt.CountryCode))
	}
	route := appt.CountryCode.Route()

	env, err := event.New(event.Source(appt.CountryCode), event.DetailTypeCreated, appt)
	if err != nil {
		return err
	}
	body, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := c.pub.Publish(ctx, route.Topic, appt.ID, body); err != nil {
		return err
	}

	c.log.Info("appointment notified",
		zap.String("appointment_id", appt.ID),
		zap.String("topic", route.Topic),
		zap.String("event_id", env.ID),
	)
	return nil
}

// Decode reads a notification message back into the appointment it carries.
// Anything that is not a valid AppointmentCreated envelope is event.ErrMalformed.
func Decode(body []byte) (appointment.Appointment, error) {
	env, err := event.Unwrap(body)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if env.DetailType != event.DetailTypeCreated {
		return appointment.Appointment{}, fmt.Errorf("%w: unexpected detail-type %q", event.ErrMalformed, env.DetailType)
	}

	var appt appointment.Appointment
	if err := env.Decode(&appt); err != nil {
		return appointment.Appointment{}, err
	}
	if err := appt.Validate(); err != nil {
		return appointment.Appointment{}, fmt.Errorf("%w: %v", event.ErrMalformed, err)
	}
	return appt, nil
}
