package country

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		raw  string
		want Code
		ok   bool
	}{
		{"PE", PE, true},
		{"pe", PE, true},
		{" cl ", CL, true},
		{"XX", "", false},
		{"", "", false},
		{"PER", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := Parse(tc.raw)
			if !tc.ok {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnsupported))
				assert.Contains(t, err.Error(), tc.raw)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRoutingTableIsValid(t *testing.T) {
	require.NoError(t, Validate())

	for _, c := range All() {
		r := c.Route()
		assert.Equal(t, c, r.Code)
		assert.Equal(t, "appointments."+c.Lower(), r.Topic)
		assert.Equal(t, "appointments_"+c.Lower(), r.Table)
	}
}

func TestRouteUnknownCodePanics(t *testing.T) {
	assert.Panics(t, func() { Code("XX").Route() })
	assert.False(t, Code("XX").Supported())
	assert.True(t, PE.Supported())
}
