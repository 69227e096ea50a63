package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("admin:sweep").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("admin:sweep").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("admin:sweep", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("admin:sweep", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("admin:sweep")))
}

func TestAddSweptIgnoresEmptyRuns(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddSwept("sessions", 0)
	m.AddSwept("sessions", 3)
	m.AddSwept("grants", 2)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.swept.WithLabelValues("sessions")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.swept.WithLabelValues("grants")))

	var nilMetrics *Metrics
	nilMetrics.AddSwept("sessions", 1)
	assert.NoError(t, nilMetrics.Track("x").End(nil))
}
