package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionMetrics tracks live verification sessions and decision outcomes.
type SessionMetrics struct {
	active    prometheus.Gauge
	decisions *prometheus.CounterVec
	expired   prometheus.Counter
}

var (
	sessionMetricsOnce sync.Once
	sessionMetrics     *SessionMetrics
)

func Session() *SessionMetrics {
	return SessionWithConfig(Config{})
}

func SessionWithConfig(cfg Config) *SessionMetrics {
	sessionMetricsOnce.Do(func() {
		sessionMetrics = newSessionMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return sessionMetrics
}

func ResetSessionMetricsForTest() {
	sessionMetricsOnce = sync.Once{}
	sessionMetrics = nil
}

func newSessionMetrics(registerer prometheus.Registerer, cfg Config) *SessionMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	constLabels := prometheus.Labels{
		"service": valueOr(cfg.ServiceName, "verity"),
		"env":     valueOr(cfg.Environment, "unknown"),
	}

	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "verity_sessions_active",
		Help:        "Verification sessions currently held in memory.",
		ConstLabels: constLabels,
	})

	decisions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "verity_decisions_total",
			Help:        "Verification decisions by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"}, // approved | rejected
	)

	expired := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "verity_sessions_expired_total",
		Help:        "Sessions removed by TTL expiry (lazy or sweep).",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(active, decisions, expired)

	return &SessionMetrics{active: active, decisions: decisions, expired: expired}
}

func (m *SessionMetrics) SetActive(count int) {
	if m == nil {
		return
	}
	m.active.Set(float64(count))
}

func (m *SessionMetrics) IncDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

func (m *SessionMetrics) IncExpired() {
	if m == nil {
		return
	}
	m.expired.Inc()
}
