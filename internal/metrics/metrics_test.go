package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.EventReceived("CALL_STARTED", OutcomeApplied)
	m.EventReceived("CALL_STARTED", OutcomeApplied)
	m.EventReceived("CALL_STARTED", OutcomeDuplicate)
	m.StatusChanged("INDEXED")
	m.IndexAttempt("retry")
	m.SweepAction("failed", 3)
	m.SweepAction("requeued", 0)
	m.SetQueueDepth(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("CALL_STARTED", OutcomeApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("CALL_STARTED", OutcomeDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("INDEXED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.indexAttempts.WithLabelValues("retry")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweeps.WithLabelValues("failed")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventReceived("x", OutcomeApplied)
		m.StatusChanged("FAILED")
		m.IndexAttempt("success")
		m.ObserveIndex(time.Second)
		m.SearchCompleted("semantic", "ok", time.Millisecond)
		m.SetQueueDepth(1)
		m.SweepAction("failed", 1)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.SearchCompleted("hybrid", "ok", 20*time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `callmind_searches_total{mode="hybrid",outcome="ok"} 1`)
	assert.Contains(t, string(body), "callmind_search_duration_seconds_bucket")
}
