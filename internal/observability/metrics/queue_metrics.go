package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config labels every metric with service identity.
type Config struct {
	ServiceName string
	Environment string
}

// QueueMetrics tracks durable-queue backlog and processing outcomes for the
// reconciliation and webhook queues.
type QueueMetrics struct {
	backlog       *prometheus.GaugeVec
	oldestPending *prometheus.GaugeVec
	processed     *prometheus.CounterVec
	claimDuration *prometheus.HistogramVec
}

var (
	queueMetricsOnce sync.Once
	queueMetrics     *QueueMetrics
)

// Queue returns the process-wide queue metrics, registering them on first use.
func Queue() *QueueMetrics {
	return QueueWithConfig(Config{})
}

func QueueWithConfig(cfg Config) *QueueMetrics {
	queueMetricsOnce.Do(func() {
		queueMetrics = newQueueMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return queueMetrics
}

func ResetQueueMetricsForTest() {
	queueMetricsOnce = sync.Once{}
	queueMetrics = nil
}

func newQueueMetrics(registerer prometheus.Registerer, cfg Config) *QueueMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	constLabels := prometheus.Labels{
		"service": valueOr(cfg.ServiceName, "verity"),
		"env":     valueOr(cfg.Environment, "unknown"),
	}

	backlog := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "verity_queue_backlog_total",
			Help:        "Number of queued jobs by queue and status.",
			ConstLabels: constLabels,
		},
		[]string{"queue", "status"},
	)

	oldestPending := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "verity_queue_oldest_pending_seconds",
			Help:        "Age of the oldest pending job per queue.",
			ConstLabels: constLabels,
		},
		[]string{"queue"},
	)

	processed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "verity_queue_processed_total",
			Help:        "Total jobs processed by queue and result.",
			ConstLabels: constLabels,
		},
		[]string{"queue", "result"}, // done | rescheduled | failed
	)

	claimDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "verity_queue_run_duration_seconds",
			Help:        "Duration of one budgeted queue run.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: constLabels,
		},
		[]string{"queue"},
	)

	registerer.MustRegister(backlog, oldestPending, processed, claimDuration)

	return &QueueMetrics{
		backlog:       backlog,
		oldestPending: oldestPending,
		processed:     processed,
		claimDuration: claimDuration,
	}
}

func (m *QueueMetrics) SetBacklog(queue, status string, value int64) {
	if m == nil {
		return
	}
	m.backlog.WithLabelValues(queue, status).Set(float64(value))
}

func (m *QueueMetrics) SetOldestPending(queue string, age time.Duration) {
	if m == nil {
		return
	}
	m.oldestPending.WithLabelValues(queue).Set(age.Seconds())
}

func (m *QueueMetrics) IncProcessed(queue, result string) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(queue, result).Inc()
}

func (m *QueueMetrics) ObserveRunDuration(queue string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.claimDuration.WithLabelValues(queue).Observe(elapsed.Seconds())
}

func valueOr(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
