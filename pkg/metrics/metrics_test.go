package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventApplied("message.receive", "applied")
		m.IDCollision()
		m.Page("older", "ok", 3)
		m.HeightMeasured(true)
	})
}

func TestCounters(t *testing.T) {
	m := New()
	m.EventApplied("message.receive", "skipped")
	m.EventApplied("message.receive", "skipped")
	m.Send("failed")
	m.Page("older", "dropped", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("message.receive", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sends.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pages.WithLabelValues("older", "dropped")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Jump("local")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `murmur_jumps_total{result="local"} 1`)
}
