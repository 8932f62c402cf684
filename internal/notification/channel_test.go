package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/medical-appointment-saga/internal/appointment"
	"github.com/hackgods/medical-appointment-saga/internal/country"
	"github.com/hackgods/medical-appointment-saga/internal/event"
)

type published struct {
	topic, key string
	value      []byte
}

type fakePublisher struct {
	out []published
	err error
}

func (f *fakePublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	if f.err != nil {
		return f.err
	}
	f.out = append(f.out, published{topic, key, value})
	return nil
}

func sample(code country.Code) appointment.Appointment {
	slot, _ := appointment.ParseScheduleSlot([]byte(`{"scheduleId":100,"centerId":4,"specialtyId":3,"medicId":7,"date":"2026-11-02T15:30:00Z"}`))
	return appointment.Appointment{
		ID:           "a1",
		InsuredID:    "00001",
		ScheduleSlot: slot,
		CountryCode:  code,
		Status:       appointment.StatusPending,
		CreatedAt:    time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
	}
}

func TestNotifyRoutesByCountry(t *testing.T) {
	for _, code := range country.All() {
		pub := &fakePublisher{}
		ch := NewChannel(pub, nil)

		require.NoError(t, ch.Notify(context.Background(), sample(code)))
		require.Len(t, pub.out, 1)
		assert.Equal(t, code.Route().Topic, pub.out[0].topic)
		assert.Equal(t, "a1", pub.out[0].key)

		env, err := event.Unwrap(pub.out[0].value)
		require.NoError(t, err)
		assert.Equal(t, event.Source(code), env.Source)
		assert.Equal(t, event.DetailTypeCreated, env.DetailType)
	}
}

func TestNotifyUnsupportedCountryPublishesNothing(t *testing.T) {
	pub := &fakePublisher{}
	err := NewChannel(pub, nil).Notify(context.Background(), sample("XX"))
	assert.True(t, errors.Is(err, appointment.ErrInvalidCountry))
	assert.Empty(t, pub.out)
}

func TestNotifyPropagatesPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	err := NewChannel(pub, nil).Notify(context.Background(), sample(country.PE))
	assert.ErrorContains(t, err, "broker down")
}

func TestDecodeRoundTripKeepsSlotBytes(t *testing.T) {
	pub := &fakePublisher{}
	in := sample(country.CL)
	require.NoError(t, NewChannel(pub, nil).Notify(context.Background(), in))

	out, err := Decode(pub.out[0].value)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.ScheduleSlot.String(), out.ScheduleSlot.String())
	assert.Equal(t, country.CL, out.CountryCode)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	completed, err := event.New("appointments.pe", event.DetailTypeCompleted, map[string]string{"appointmentId": "a1"})
	require.NoError(t, err)
	wrongType, err := completed.Marshal()
	require.NoError(t, err)

	noCountry, err := event.New("appointments.pe", event.DetailTypeCreated, map[string]any{
		"appointmentId": "a1", "insuredId": "1", "scheduleSlot": 1, "status": "pending", "createdAt": time.Now(),
	})
	require.NoError(t, err)
	noCountryBody, err := json.Marshal(noCountry)
	require.NoError(t, err)

	for name, body := range map[string][]byte{
		"not json":        []byte("{"),
		"no detail":       []byte(`{"id":"e1","detail-type":"AppointmentCreated"}`),
		"wrong type":      wrongType,
		"missing country": noCountryBody,
		"bad slot":        []byte(`{"id":"e1","detail-type":"AppointmentCreated","detail":{"appointmentId":"a1","scheduleSlot":"x"}}`),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(body)
			assert.True(t, errors.Is(err, event.ErrMalformed), "got %v", err)
		})
	}
}
