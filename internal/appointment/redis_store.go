package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/medical-appointment-saga/internal/country"
)

const pendingKey = "appointments:pending"

// RedisRecordStore keeps one hash per appointment, a set per insured as the
// secondary index and a sorted set of pending ids scored by creation time.
type RedisRecordStore struct {
	client redis.Cmdable
}

func NewRedisRecordStore(client redis.Cmdable) *RedisRecordStore {
	return &RedisRecordStore{client: client}
}

func appointmentKey(id string) string {
	return "appointment:" + id
}

func insuredKey(insuredID string) string {
	return "insured:" + insuredID + ":appointments"
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// Helpers

func toHash(a Appointment) map[string]any {
	h := map[string]any{
		"appointmentId": a.ID,
		"insuredId":     a.InsuredID,
		"scheduleSlot":  a.ScheduleSlot.String(),
		"countryCode":   a.CountryCode.String(),
		"status":        string(a.Status),
		"createdAt":     a.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if a.UpdatedAt != nil {
		h["updatedAt"] = a.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return h
}

func fromHash(h map[string]string) (*Appointment, error) {
	if len(h) == 0 {
		return nil, ErrAppointmentNotFound
	}

	slot, err := ParseScheduleSlot([]byte(h["scheduleSlot"]))
	if err != nil {
		return nil, fmt.Errorf("decode appointment %s: %w", h["appointmentId"], err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, h["createdAt"])
	if err != nil {
		return nil, fmt.Errorf("decode appointment %s createdAt: %w", h["appointmentId"], err)
	}

	a := &Appointment{
		ID:           h["appointmentId"],
		InsuredID:    h["insuredId"],
		ScheduleSlot: slot,
		CountryCode:  country.Code(h["countryCode"]),
		Status:       AppointmentStatus(h["status"]),
		CreatedAt:    createdAt,
	}
	if v := h["updatedAt"]; v != "" {
		updatedAt, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode appointment %s updatedAt: %w", a.ID, err)
		}
		a.UpdatedAt = &updatedAt
	}
	return a, nil
}

// Interface methods

// putScript replaces the appointment hash unless the stored status is not
// among the allowed prior statuses, in which case it returns that status.
//
// KEYS: appointment hash, insured set, pending zset
// ARGV: id, status, pending score, n, n allowed prior statuses, field/value pairs
var putScript = redis.NewScript(`
local n = tonumber(ARGV[4])
local cur = redis.call("HGET", KEYS[1], "status")
if cur then
  local ok = false
  for i = 5, 4 + n do
    if ARGV[i] == cur then ok = true end
  end
  if not ok then return cur end
end
local fields = {}
for i = 5 + n, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], unpack(fields))
redis.call("SADD", KEYS[2], ARGV[1])
if ARGV[2] == "pending" then
  redis.call("ZADD", KEYS[3], ARGV[3], ARGV[1])
else
  redis.call("ZREM", KEYS[3], ARGV[1])
end
return ""
`)

// priorStatuses lists the statuses a record may hold before it is written
// with status to: the same status, or one that can transition to it.
func priorStatuses(to AppointmentStatus) []string {
	var out []string
	for _, from := range []AppointmentStatus{StatusPending, StatusCompleted} {
		if from == to || from.CanTransition(to) {
			out = append(out, string(from))
		}
	}
	return out
}

func (s *RedisRecordStore) Put(ctx context.Context, a Appointment) error {
	allowed := priorStatuses(a.Status)

	args := []any{a.ID, string(a.Status), a.CreatedAt.UnixMilli(), len(allowed)}
	for _, st := range allowed {
		args = append(args, st)
	}
	for field, value := range toHash(a) {
		args = append(args, field, value)
	}

	cur, err := putScript.Run(ctx, s.client,
		[]string{appointmentKey(a.ID), insuredKey(a.InsuredID), pendingKey},
		args...,
	).Text()
	if err != nil {
		return storeErr("put appointment "+a.ID, err)
	}
	if cur != "" {
		return fmt.Errorf("%w: appointment %s is %s, cannot store it as %s", ErrInvalidTransition, a.ID, cur, a.Status)
	}
	return nil
}

func (s *RedisRecordStore) Get(ctx context.Context, id string) (*Appointment, error) {
	h, err := s.client.HGetAll(ctx, appointmentKey(id)).Result()
	if err != nil {
		return nil, storeErr("get appointment "+id, err)
	}
	return fromHash(h)
}

func (s *RedisRecordStore) ListByInsured(ctx context.Context, insuredID string) ([]Appointment, error) {
	ids, err := s.client.SMembers(ctx, insuredKey(insuredID)).Result()
	if err != nil {
		return nil, storeErr("list appointments of insured "+insuredID, err)
	}

	result, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

var markCompletedScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "status", ARGV[1], "updatedAt", ARGV[2])
redis.call("ZREM", KEYS[2], ARGV[3])
return 1
`)

func (s *RedisRecordStore) MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error) {
	n, err := markCompletedScript.Run(ctx, s.client,
		[]string{appointmentKey(id), pendingKey},
		string(StatusCompleted), at.UTC().Format(time.RFC3339Nano), id,
	).Int()
	if err != nil {
		return false, storeErr("mark appointment "+id+" completed", err)
	}
	return n == 1, nil
}

func (s *RedisRecordStore) ListStalePending(ctx context.Context, before time.Time, limit int64) ([]Appointment, error) {
	ids, err := s.client.ZRangeByScore(ctx, pendingKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(before.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, storeErr("list stale pending appointments", err)
	}

	loaded, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := loaded[:0]
	for _, a := range loaded {
		if a.Status == StatusPending {
			result = append(result, a)
		}
	}
	return result, nil
}

var markRepublishedScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "status") ~= ARGV[1] then
  redis.call("ZREM", KEYS[2], ARGV[3])
  return 0
end
local n = redis.call("HINCRBY", KEYS[1], "republishes", 1)
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
return n
`)

// MarkRepublished moves id to the back of the pending set by scoring it at
// at, so the sweeper reaches every stale appointment in turn.
func (s *RedisRecordStore) MarkRepublished(ctx context.Context, id string, at time.Time) (int64, error) {
	n, err := markRepublishedScript.Run(ctx, s.client,
		[]string{appointmentKey(id), pendingKey},
		string(StatusPending), at.UnixMilli(), id,
	).Int64()
	if err != nil {
		return 0, storeErr("mark appointment "+id+" republished", err)
	}
	return n, nil
}

func (s *RedisRecordStore) AbandonPending(ctx context.Context, id string) error {
	if err := s.client.ZRem(ctx, pendingKey, id).Err(); err != nil {
		return storeErr("abandon pending appointment "+id, err)
	}
	return nil
}

func (s *RedisRecordStore) load(ctx context.Context, ids []string) ([]Appointment, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, appointmentKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("load appointments", err)
	}

	result := make([]Appointment, 0, len(ids))
	for _, cmd := range cmds {
		a, err := fromHash(cmd.Val())
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			return nil, err
		}
		result = append(result, *a)
	}
	return result, nil
}
