package bus

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/hackgods/medical-appointment-saga/internal/broker"
	"github.com/hackgods/medical-appointment-saga/internal/country"
	"github.com/hackgods/medical-appointment-saga/internal/event"
)

const DefaultTopic = "appointment-events"

// Publisher writes one keyed message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Bus is the shared topic carrying typed envelopes between stages.
type Bus struct {
	pub   Publisher
	topic string
	log   *zap.Logger
}

func New(pub Publisher, topic string, log *zap.Logger) *Bus {
	if topic == "" {
		topic = DefaultTopic
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{pub: pub, topic: topic, log: log}
}

func (b *Bus) Topic() string { return b.topic }

// PublishCompleted announces that an appointment reached its ledger.
func (b *Bus) PublishCompleted(ctx context.Context, c event.Completion) error {
	if err := c.Validate(); err != nil {
		return err
	}

	source := "appointments"
	if code, err := country.Parse(c.CountryCode); err == nil {
		source = event.Source(code)
	}

	env, err := event.New(source, event.DetailTypeCompleted, c)
	if err != nil {
		return err
	}
	body, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := b.pub.Publish(ctx, b.topic, c.AppointmentID, body); err != nil {
		return err
	}

	b.log.Info("completion published",
		zap.String("appointment_id", c.AppointmentID),
		zap.String("source", source),
		zap.String("event_id", env.ID),
	)
	return nil
}

// Rule routes bus envelopes of the listed detail-types to a queue.
type Rule struct {
	Name        string
	DetailTypes []string
	Queue       string
}

// CompletedToReconciler feeds completions to the reconciler's queue.
var CompletedToReconciler = Rule{
	Name:        "completed-to-reconciler",
	DetailTypes: []string{event.DetailTypeCompleted},
	Queue:       "appointments:completed",
}

// Matches reports whether body is an envelope the rule routes. Bodies that
// are not envelopes never match.
func (r Rule) Matches(body []byte) bool {
	env, err := event.Unwrap(body)
	if err != nil {
		return false
	}
	for _, dt := range r.DetailTypes {
		if env.DetailType == dt {
			return true
		}
	}
	return false
}

func (r Rule) Filter() broker.Filter {
	return func(msg kafka.Message) bool { return r.Matches(msg.Value) }
}
