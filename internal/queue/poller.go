package queue

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Poller drains a queue in batches and acknowledges what the handler did not
// report as failed. It never retries by itself: failed messages stay on the
// queue and come back after the visibility timeout.
type Poller struct {
	queue     Queue
	handler   BatchHandler
	batchSize int
	interval  time.Duration
	log       *zap.Logger
}

func NewPoller(q Queue, h BatchHandler, batchSize int, interval time.Duration, log *zap.Logger) *Poller {
	if batchSize <= 0 {
		batchSize = 10
	}
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		queue:     q,
		handler:   h,
		batchSize: batchSize,
		interval:  interval,
		log:       log.With(zap.String("queue", q.Name())),
	}
}

// Run polls until ctx is cancelled. Full batches are followed immediately by
// another poll; empty or failed polls wait one interval.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("poller started", zap.Int("batch_size", p.batchSize), zap.Duration("interval", p.interval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return nil
		case <-timer.C:
		}

		n, err := p.PollOnce(ctx)
		if err != nil && ctx.Err() == nil {
			p.log.Error("poll failed", zap.Error(err))
		}

		next := p.interval
		if err == nil && n >= p.batchSize {
			next = 0
		}
		timer.Reset(next)
	}
}

// PollOnce receives and handles a single batch, returning its size.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	msgs, err := p.queue.Receive(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	start := time.Now()
	res := p.handler.HandleBatch(ctx, msgs)

	failed := make(map[string]struct{}, len(res.Failures))
	for _, id := range res.Failures {
		failed[id] = struct{}{}
	}

	done := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := failed[m.ID]; !ok {
			done = append(done, m.ID)
		}
	}

	if err := p.queue.Delete(ctx, done...); err != nil {
		return len(msgs), err
	}

	p.log.Info("batch handled",
		zap.Int("received", len(msgs)),
		zap.Int("acknowledged", len(done)),
		zap.Int("failed", len(failed)),
		zap.Duration("duration", time.Since(start)),
	)
	return len(msgs), nil
}
