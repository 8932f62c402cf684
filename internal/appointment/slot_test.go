package appointment

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScheduleSlot(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"number", `100`, `100`, true},
		{"negative number", `-3`, `-3`, true},
		{"composite", `{ "scheduleId": 1, "centerId": 2, "specialtyId": 3, "medicId": 4, "date": "2026-01-02T10:00:00Z" }`,
			`{"scheduleId":1,"centerId":2,"specialtyId":3,"medicId":4,"date":"2026-01-02T10:00:00Z"}`, true},
		{"composite with extra field kept", `{"scheduleId":1,"centerId":2,"specialtyId":3,"medicId":4,"date":"d","room":"7"}`,
			`{"scheduleId":1,"centerId":2,"specialtyId":3,"medicId":4,"date":"d","room":"7"}`, true},
		{"composite missing medic", `{"scheduleId":1,"centerId":2,"specialtyId":3,"date":"d"}`, "", false},
		{"string", `"100"`, "", false},
		{"array", `[1]`, "", false},
		{"bool", `true`, "", false},
		{"empty", ``, "", false},
		{"trailing garbage", `1 2`, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			slot, err := ParseScheduleSlot([]byte(tc.raw))
			if !tc.ok {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidScheduleSlot))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, slot.String())
		})
	}
}

func TestScheduleSlotKeyOrderIsPreserved(t *testing.T) {
	raw := `{"date":"2026-03-01","medicId":4,"specialtyId":3,"centerId":2,"scheduleId":1}`
	slot, err := ParseScheduleSlot([]byte(raw))
	require.NoError(t, err)

	out, err := json.Marshal(struct {
		Slot ScheduleSlot `json:"scheduleSlot"`
	}{slot})
	require.NoError(t, err)
	assert.Equal(t, `{"scheduleSlot":`+raw+`}`, string(out))
}

func TestScheduleSlotUnmarshalNullIsZero(t *testing.T) {
	var v struct {
		Slot ScheduleSlot `json:"scheduleSlot"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"scheduleSlot":null}`), &v))
	assert.True(t, v.Slot.IsZero())
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusCompleted))
	assert.False(t, StatusCompleted.CanTransition(StatusPending))
	assert.False(t, StatusCompleted.CanTransition(StatusCompleted))
	assert.False(t, StatusPending.CanTransition(StatusPending))
}
