package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/medical-appointment-saga/internal/metrics"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublisherPublish(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w)

	require.NoError(t, p.Publish(context.Background(), "appointments.pe", "a1", []byte(`{}`)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "appointments.pe", w.msgs[0].Topic)
	assert.Equal(t, []byte("a1"), w.msgs[0].Key)
	assert.Equal(t, []byte(`{}`), w.msgs[0].Value)

	w.err = errors.New("leader not available")
	err := p.Publish(context.Background(), "appointments.pe", "a2", nil)
	assert.ErrorContains(t, err, "appointments.pe")
}

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(nil)
	assert.Error(t, err)
}

// fakeReader serves msgs in order and then blocks until ctx ends.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []kafka.Message
	commitErr error
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error { return nil }

func (f *fakeReader) committedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

type fakeSender struct {
	mu       sync.Mutex
	failures int
	sent     [][]byte
	attempts int
}

func (f *fakeSender) Send(ctx context.Context, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return errors.New("redis unavailable")
	}
	f.sent = append(f.sent, body)
	return nil
}

func TestSubscriptionForwardsThenCommits(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Topic: "appointments.pe", Offset: 1, Value: []byte("one")},
		{Topic: "appointments.pe", Offset: 2, Value: []byte("two")},
	}}
	sender := &fakeSender{}
	m := metrics.New()
	sub := NewSubscription(SubscriptionOptions{
		Name:    "pe",
		Reader:  reader,
		Target:  sender,
		Queue:   "appointments:pe",
		Metrics: m,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	require.Eventually(t, func() bool { return reader.committedCount() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, sender.sent)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Forwarded.WithLabelValues("appointments.pe", "appointments:pe")))
}

func TestSubscriptionRetriesSendBeforeCommit(t *testing.T) {
	reader := &fakeReader{}
	sender := &fakeSender{failures: 2}
	sub := NewSubscription(SubscriptionOptions{Reader: reader, Target: sender, MaxBackoff: time.Millisecond})

	err := sub.Forward(context.Background(), kafka.Message{Topic: "t", Value: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, 3, sender.attempts)
	assert.Len(t, sender.sent, 1)
	assert.Equal(t, 1, reader.committedCount())
}

func TestSubscriptionDoesNotCommitWhenCancelledMidRetry(t *testing.T) {
	reader := &fakeReader{}
	sender := &fakeSender{failures: 1000}
	sub := NewSubscription(SubscriptionOptions{Reader: reader, Target: sender})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sub.Forward(ctx, kafka.Message{Topic: "t", Value: []byte("x")})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, reader.committedCount())
}

func TestSubscriptionFilterSkipsButCommits(t *testing.T) {
	reader := &fakeReader{}
	sender := &fakeSender{}
	sub := NewSubscription(SubscriptionOptions{
		Reader: reader,
		Target: sender,
		Filter: func(msg kafka.Message) bool { return string(msg.Value) == "keep" },
	})

	require.NoError(t, sub.Forward(context.Background(), kafka.Message{Value: []byte("drop")}))
	require.NoError(t, sub.Forward(context.Background(), kafka.Message{Value: []byte("keep")}))

	assert.Equal(t, [][]byte{[]byte("keep")}, sender.sent)
	assert.Equal(t, 2, reader.committedCount())
}

func TestSubscriptionCommitFailureIsReturned(t *testing.T) {
	reader := &fakeReader{commitErr: errors.New("rebalance in progress")}
	sub := NewSubscription(SubscriptionOptions{Reader: reader, Target: &fakeSender{}})

	err := sub.Forward(context.Background(), kafka.Message{Topic: "t", Value: []byte("x")})
	assert.ErrorContains(t, err, "rebalance in progress")
}

func TestNewKafkaReaderValidates(t *testing.T) {
	_, err := NewKafkaReader(nil, "g", "t")
	assert.Error(t, err)
	_, err = NewKafkaReader([]string{"b:9092"}, "", "t")
	assert.Error(t, err)
	_, err = NewKafkaReader([]string{"b:9092"}, "g")
	assert.Error(t, err)
}

func TestPingerWithoutBrokers(t *testing.T) {
	assert.Error(t, NewPinger(nil).Ping(context.Background()))
}
