package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mackka2k/tg-news-listener/internal/domain"
)

func TestMetrics_Outcome(t *testing.T) {
	m := New()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	m.Outcome(domain.Outcome{State: domain.StateCommitted, DailyCount: 3, ReceivedAt: start, FinishedAt: start.Add(time.Second)})
	m.Outcome(domain.Outcome{State: domain.StateFailed, Kind: domain.KindStorageUnavailable, EmittedUnrecorded: true})
	m.Outcome(domain.Outcome{State: domain.StateRejectedQuota, Kind: domain.KindRejectedQuota})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("committed", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("failed", "storage_unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emittedUnrecorded))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.dailyCount))
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Received()
	m.Received()
	m.Throttled()
	m.SendAttempt("ok")
	m.LimiterWait(2 * time.Second)
	m.SetDaily(4, 5)
	m.SetHalted(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.received))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.throttles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sendAttempts.WithLabelValues("ok")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.dailyLimit))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.halted))

	m.SetHalted(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.halted))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Received()
		m.Outcome(domain.Outcome{State: domain.StateCommitted})
		m.SendAttempt("ok")
		m.LimiterWait(time.Second)
		m.Throttled()
		m.SetDaily(1, 2)
		m.SetHalted(true)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Received()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "forwarder_messages_received_total 1")
}
