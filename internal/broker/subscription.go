package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/hackgods/medical-appointment-saga/internal/metrics"
	"github.com/hackgods/medical-appointment-saga/internal/queue"
)

// Reader is the part of *kafka.Reader a subscription needs. Offsets are
// committed explicitly, after the message reached its queue.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaReader(brokers []string, groupID string, topics ...string) (*kafka.Reader, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka reader requires at least one broker")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka reader requires group id")
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("kafka reader requires at least one topic")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	}), nil
}

// Filter selects the messages a subscription forwards. Skipped messages
// are still committed.
type Filter func(msg kafka.Message) bool

type SubscriptionOptions struct {
	Name    string
	Reader  Reader
	Target  queue.Sender
	Queue   string // target queue name, for logs and metrics
	Filter  Filter
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// MaxBackoff caps the wait between failed sends of one message.
	MaxBackoff time.Duration
}

// Subscription relays a topic into a work queue. A message is committed only
// once it was enqueued, so a crash between the two redelivers it.
type Subscription struct {
	opts SubscriptionOptions
	log  *zap.Logger
}

func NewSubscription(opts SubscriptionOptions) *Subscription {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Second
	}
	return &Subscription{
		opts: opts,
		log:  opts.Logger.With(zap.String("subscription", opts.Name), zap.String("queue", opts.Queue)),
	}
}

// Run forwards messages until ctx is cancelled.
func (s *Subscription) Run(ctx context.Context) error {
	s.log.Info("subscription started")
	defer s.log.Info("subscription stopped")

	for {
		msg, err := s.opts.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.log.Error("fetch failed", zap.Error(err))
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		if err := s.Forward(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// the uncommitted message comes back after a rebalance or restart
			s.log.Error("forward failed", zap.Error(err))
		}
	}
}

// Forward enqueues msg, retrying until it succeeds or ctx ends, and then
// commits it.
func (s *Subscription) Forward(ctx context.Context, msg kafka.Message) error {
	if s.opts.Filter == nil || s.opts.Filter(msg) {
		backoff := 100 * time.Millisecond
		for {
			err := s.opts.Target.Send(ctx, msg.Value)
			if err == nil {
				break
			}
			s.log.Error("enqueue failed, retrying",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, s.opts.MaxBackoff)
		}
		if s.opts.Metrics != nil {
			s.opts.Metrics.Forwarded.WithLabelValues(msg.Topic, s.opts.Queue).Inc()
		}
	}

	if err := s.opts.Reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
