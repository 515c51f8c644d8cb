package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mackka2k/tg-news-listener/internal/domain"
)

const namespace = "forwarder"

// Metrics holds the pipeline collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	received          prometheus.Counter
	outcomes          *prometheus.CounterVec
	sendAttempts      *prometheus.CounterVec
	limiterWait       prometheus.Histogram
	throttles         prometheus.Counter
	emittedUnrecorded prometheus.Counter
	dailyCount        prometheus.Gauge
	dailyLimit        prometheus.Gauge
	halted            prometheus.Gauge
	processing        prometheus.Histogram
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.received = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_received_total",
		Help:      "Inbound messages handed to the admission pipeline",
	})
	m.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outcomes_total",
		Help:      "Terminal admission outcomes by state and kind",
	}, []string{"state", "kind"})
	m.sendAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "send_attempts_total",
		Help:      "Outbound send attempts by result",
	}, []string{"result"})
	m.limiterWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rate_limiter_wait_seconds",
		Help:      "Time spent waiting on the rate limiter",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 1800},
	})
	m.throttles = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "throttles_total",
		Help:      "Explicit retry-after signals received from the outbound API",
	})
	m.emittedUnrecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "emitted_unrecorded_total",
		Help:      "Messages sent whose fingerprint could not be persisted",
	})
	m.dailyCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "daily_emissions",
		Help:      "Emission budget consumed today",
	})
	m.dailyLimit = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "daily_emission_limit",
		Help:      "Configured daily emission budget",
	})
	m.halted = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "halted",
		Help:      "1 when the orchestrator stopped after repeated storage failures",
	})
	m.processing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "processing_duration_seconds",
		Help:      "Wall time from receipt to terminal outcome",
		Buckets:   prometheus.DefBuckets,
	})

	m.registry.MustRegister(
		m.received,
		m.outcomes,
		m.sendAttempts,
		m.limiterWait,
		m.throttles,
		m.emittedUnrecorded,
		m.dailyCount,
		m.dailyLimit,
		m.halted,
		m.processing,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Received counts an inbound message
func (m *Metrics) Received() {
	if m == nil {
		return
	}
	m.received.Inc()
}

// Outcome counts a terminal outcome and its processing time
func (m *Metrics) Outcome(o domain.Outcome) {
	if m == nil {
		return
	}
	kind := string(o.Kind)
	if kind == "" {
		kind = "none"
	}
	m.outcomes.WithLabelValues(string(o.State), kind).Inc()
	if o.EmittedUnrecorded {
		m.emittedUnrecorded.Inc()
	}
	if !o.ReceivedAt.IsZero() && o.FinishedAt.After(o.ReceivedAt) {
		m.processing.Observe(o.FinishedAt.Sub(o.ReceivedAt).Seconds())
	}
	if o.Committed() && o.DailyCount > 0 {
		m.dailyCount.Set(float64(o.DailyCount))
	}
}

// SendAttempt counts one outbound call; result is ok, retryable or fatal
func (m *Metrics) SendAttempt(result string) {
	if m == nil {
		return
	}
	m.sendAttempts.WithLabelValues(result).Inc()
}

// LimiterWait records time blocked on the rate limiter
func (m *Metrics) LimiterWait(d time.Duration) {
	if m == nil {
		return
	}
	m.limiterWait.Observe(d.Seconds())
}

// Throttled counts a retry-after signal
func (m *Metrics) Throttled() {
	if m == nil {
		return
	}
	m.throttles.Inc()
}

// SetDaily publishes today's counter and limit
func (m *Metrics) SetDaily(count, limit int) {
	if m == nil {
		return
	}
	m.dailyCount.Set(float64(count))
	m.dailyLimit.Set(float64(limit))
}

// SetHalted publishes the halt flag
func (m *Metrics) SetHalted(halted bool) {
	if m == nil {
		return
	}
	if halted {
		m.halted.Set(1)
		return
	}
	m.halted.Set(0)
}
