package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/medical-appointment-saga/internal/metrics"
)

const bodyField = "body"

// Options configures a RedisQueue.
type Options struct {
	Name     string // logical queue name, e.g. "appointments:pe"
	Group    string // consumer group shared by all workers of the queue
	Consumer string // this worker
	Policy   RedrivePolicy
	Wait     time.Duration // how long Receive blocks for new messages; 0 does not block
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// RedisQueue is a Queue on a Redis stream and consumer group. Receive counts
// are tracked in a hash beside the stream, dead letters go to a second stream.
type RedisQueue struct {
	client   redis.Cmdable
	name     string
	stream   string
	dlq      string
	counts   string
	group    string
	consumer string
	policy   RedrivePolicy
	wait     time.Duration
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewRedisQueue creates the consumer group if it does not exist yet.
func NewRedisQueue(ctx context.Context, client redis.Cmdable, opts Options) (*RedisQueue, error) {
	if opts.Name == "" {
		return nil, errors.New("queue name is required")
	}
	if opts.Group == "" {
		opts.Group = "workers"
	}
	if opts.Consumer == "" {
		opts.Consumer = "worker-1"
	}
	if opts.Policy.MaxReceives < 1 {
		opts.Policy.MaxReceives = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	q := &RedisQueue{
		client:   client,
		name:     opts.Name,
		stream:   "queue:" + opts.Name,
		dlq:      "queue:" + opts.Name + ":dlq",
		counts:   "queue:" + opts.Name + ":receives",
		group:    opts.Group,
		consumer: opts.Consumer,
		policy:   opts.Policy,
		wait:     opts.Wait,
		metrics:  opts.Metrics,
		log:      opts.Logger.With(zap.String("queue", opts.Name)),
	}

	err := client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group %s: %w", q.group, err)
	}
	return q, nil
}

func (q *RedisQueue) Name() string { return q.name }

func (q *RedisQueue) Send(ctx context.Context, body []byte) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{bodyField: body},
	}).Err()
	if err != nil {
		return fmt.Errorf("send to %s: %w", q.name, err)
	}
	return nil
}

// Receive returns up to max messages: first those whose visibility timeout
// expired without a delete, then new ones.
func (q *RedisQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}

	out, err := q.reclaim(ctx, max)
	if err != nil {
		return nil, err
	}
	if len(out) >= max {
		return out, nil
	}

	fresh, err := q.readNew(ctx, max-len(out))
	if err != nil {
		return out, err
	}
	return append(out, fresh...), nil
}

// reclaim claims up to max pending entries idle for at least the visibility
// timeout. The server applies the idle filter, so entries still in flight at
// the head of the pending list do not hide expired ones behind them.
func (q *RedisQueue) reclaim(ctx context.Context, max int) ([]Message, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Idle:   q.policy.VisibilityTimeout,
		Start:  "-",
		End:    "+",
		Count:  int64(max),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("list pending on %s: %w", q.name, err)
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.policy.VisibilityTimeout,
		Messages: ids,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("claim pending on %s: %w", q.name, err)
	}

	return q.deliver(ctx, claimed)
}

func (q *RedisQueue) readNew(ctx context.Context, n int) ([]Message, error) {
	block := q.wait
	if block <= 0 {
		// go-redis sends BLOCK 0, which waits forever, unless Block is negative.
		block = -1
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(n),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", q.name, err)
	}

	var raw []redis.XMessage
	for _, s := range streams {
		raw = append(raw, s.Messages...)
	}
	return q.deliver(ctx, raw)
}

// deliver bumps receive counts and dead-letters anything past the policy.
func (q *RedisQueue) deliver(ctx context.Context, raw []redis.XMessage) ([]Message, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	incrs := make([]*redis.IntCmd, len(raw))
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range raw {
			incrs[i] = pipe.HIncrBy(ctx, q.counts, m.ID, 1)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count receives on %s: %w", q.name, err)
	}

	out := make([]Message, 0, len(raw))
	for i, m := range raw {
		msg := Message{
			ID:           m.ID,
			Body:         bodyOf(m),
			ReceiveCount: incrs[i].Val(),
		}
		if msg.ReceiveCount > q.policy.MaxReceives {
			if err := q.deadLetter(ctx, msg); err != nil {
				return out, err
			}
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (q *RedisQueue) deadLetter(ctx context.Context, msg Message) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: q.dlq,
			Values: map[string]any{
				bodyField:   msg.Body,
				"source_id": msg.ID,
				"receives":  msg.ReceiveCount - 1,
			},
		})
		pipe.XAck(ctx, q.stream, q.group, msg.ID)
		pipe.XDel(ctx, q.stream, msg.ID)
		pipe.HDel(ctx, q.counts, msg.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dead-letter %s on %s: %w", msg.ID, q.name, err)
	}

	q.log.Warn("message dead-lettered",
		zap.String("message_id", msg.ID),
		zap.Int64("receives", msg.ReceiveCount-1),
		zap.Int64("max_receives", q.policy.MaxReceives),
	)
	if q.metrics != nil {
		q.metrics.DeadLettered.WithLabelValues(q.name).Inc()
	}
	return nil
}

func (q *RedisQueue) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, q.stream, q.group, ids...)
		pipe.XDel(ctx, q.stream, ids...)
		pipe.HDel(ctx, q.counts, ids...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete from %s: %w", q.name, err)
	}
	return nil
}

// DeadLetters lists up to max dead-lettered messages, oldest first.
func (q *RedisQueue) DeadLetters(ctx context.Context, max int64) ([]Message, error) {
	entries, err := q.client.XRangeN(ctx, q.dlq, "-", "+", max).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters of %s: %w", q.name, err)
	}
	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, Message{ID: e.ID, Body: bodyOf(e)})
	}
	return out, nil
}

// Redrive moves up to max dead letters back onto the queue with a fresh
// receive count. It returns how many were moved.
func (q *RedisQueue) Redrive(ctx context.Context, max int64) (int, error) {
	letters, err := q.DeadLetters(ctx, max)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, l := range letters {
		_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: q.stream,
				Values: map[string]any{bodyField: l.Body},
			})
			pipe.XDel(ctx, q.dlq, l.ID)
			return nil
		})
		if err != nil {
			return moved, fmt.Errorf("redrive %s on %s: %w", l.ID, q.name, err)
		}
		moved++
	}
	return moved, nil
}

func bodyOf(m redis.XMessage) []byte {
	switch v := m.Values[bodyField].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}
