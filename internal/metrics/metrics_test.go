package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCommand("Move", "OK")
	m.ObserveCommand("Move", "OK")
	m.ObserveCommand("Move", "NotYourTurn")
	m.ObserveTransition("MoveMade")
	m.AddDirty(1)
	m.AddDirty(1)
	m.AddDirty(-1)
	m.SetLive(3)
	m.SubscriberDropped("session")
	m.SaveRetried()
	m.ObserveResult("checkmate")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Commands.WithLabelValues("Move", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("Move", "NotYourTurn")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("MoveMade")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dirty))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Live))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped.WithLabelValues("session")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SaveRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Results.WithLabelValues("checkmate")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCommand("Move", "OK")
		m.ObserveTransition("MoveMade")
		m.ObserveSweep(time.Millisecond)
		m.AddDirty(1)
		m.SetLive(1)
		m.SubscriberDropped("user")
		m.SaveRetried()
		m.ObserveResult("draw_agreed")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveSweep(2 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "chess_session_sweep_duration_seconds_count 1"))
}
