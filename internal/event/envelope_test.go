package event

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/medical-appointment-saga/internal/country"
)

func TestSourceIsLowerCased(t *testing.T) {
	assert.Equal(t, "appointments.pe", Source(country.PE))
	assert.Equal(t, "appointments.cl", Source(country.CL))
}

func TestUnwrapKeepsDetailBytes(t *testing.T) {
	detail := json.RawMessage(`{"appointmentId":"a1","scheduleSlot":{"scheduleId":1,"date":"2026-01-02"}}`)
	env, err := New(Source(country.PE), DetailTypeCreated, detail)
	require.NoError(t, err)

	body, err := env.Marshal()
	require.NoError(t, err)

	got, err := Unwrap(body)
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, DetailTypeCreated, got.DetailType)
	assert.JSONEq(t, string(detail), string(got.Detail))
}

func TestUnwrapRejectsMalformed(t *testing.T) {
	bodies := map[string]string{
		"not json":       `{{{`,
		"no detail":      `{"id":"1","detail-type":"AppointmentCreated"}`,
		"null detail":    `{"id":"1","detail-type":"AppointmentCreated","detail":null}`,
		"no detail-type": `{"id":"1","detail":{"a":1}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := Unwrap([]byte(body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestDecodeCompletion(t *testing.T) {
	env, err := New(Source(country.CL), DetailTypeCompleted, Completion{
		AppointmentID: "a1",
		InsuredID:     "00001",
		CountryCode:   "CL",
	})
	require.NoError(t, err)
	body, err := env.Marshal()
	require.NoError(t, err)

	c, err := DecodeCompletion(body)
	require.NoError(t, err)
	assert.Equal(t, "a1", c.AppointmentID)
	assert.Equal(t, "00001", c.InsuredID)
	assert.Equal(t, "CL", c.CountryCode)
}

func TestDecodeCompletionRejectsWrongTypeAndMissingID(t *testing.T) {
	created, err := New(Source(country.PE), DetailTypeCreated, Completion{AppointmentID: "a1"})
	require.NoError(t, err)
	body, _ := created.Marshal()
	_, err = DecodeCompletion(body)
	assert.True(t, errors.Is(err, ErrMalformed))

	noID, err := New(Source(country.PE), DetailTypeCompleted, Completion{InsuredID: "x"})
	require.NoError(t, err)
	body, _ = noID.Marshal()
	_, err = DecodeCompletion(body)
	assert.True(t, errors.Is(err, ErrMalformed))
}
