package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAreIndependentPerInstance(t *testing.T) {
	a := New()
	b := New()

	a.Bookings.WithLabelValues("PE", OutcomeOK).Inc()
	a.Bookings.WithLabelValues("PE", OutcomeOK).Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(a.Bookings.WithLabelValues("PE", OutcomeOK)))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.Bookings.WithLabelValues("PE", OutcomeOK)))
}

func TestHandlerExposesSagaMetrics(t *testing.T) {
	m := New()
	m.DeadLettered.WithLabelValues("appointments:pe").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `appointments_queue_dead_lettered_total{queue="appointments:pe"} 1`)
}
