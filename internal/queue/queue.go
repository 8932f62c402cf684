package queue

import (
	"context"
	"time"
)

// Message is one delivery of a queued body. ReceiveCount includes this delivery.
type Message struct {
	ID           string
	Body         []byte
	ReceiveCount int64
}

// BatchResult lists the messages a handler could not process. Everything
// else in the batch is acknowledged and removed from the queue.
type BatchResult struct {
	Failures []string
}

func (r *BatchResult) Fail(id string) {
	r.Failures = append(r.Failures, id)
}

// Sender is the publishing half of a queue.
type Sender interface {
	Send(ctx context.Context, body []byte) error
}

// Queue is an at-least-once work queue. A received message that is not
// deleted becomes visible again after the visibility timeout and is moved to
// the dead-letter path once it exceeded the redrive policy.
type Queue interface {
	Sender
	Name() string
	Receive(ctx context.Context, max int) ([]Message, error)
	Delete(ctx context.Context, ids ...string) error
}

// RedrivePolicy is owned by the transport, not by the components it feeds.
type RedrivePolicy struct {
	MaxReceives       int64
	VisibilityTimeout time.Duration
}

// BatchHandler processes a received batch.
type BatchHandler interface {
	HandleBatch(ctx context.Context, msgs []Message) BatchResult
}

type BatchHandlerFunc func(ctx context.Context, msgs []Message) BatchResult

func (f BatchHandlerFunc) HandleBatch(ctx context.Context, msgs []Message) BatchResult {
	return f(ctx, msgs)
}
