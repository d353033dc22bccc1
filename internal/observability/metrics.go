package observability

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "aidesk"

// Metrics exposes Prometheus collectors for report tasks and chat exchanges.
type Metrics struct {
	tasksStarted  *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	tasksActive   prometheus.Gauge
	chatExchanges *prometheus.CounterVec
	chatChunks    prometheus.Counter
	pollErrors    prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the instance registered with the global Prometheus
// registry. Collectors are created once so repeated servers in one process do
// not collide.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Registration errors other than an identical existing collector panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		tasksStarted: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "orchestrator",
				Name:      "tasks_started_total",
				Help:      "Report tasks accepted by the orchestration API.",
			},
			[]string{"mode"},
		)),
		tasksFinished: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "orchestrator",
				Name:      "tasks_finished_total",
				Help:      "Report tasks that reached a terminal state.",
			},
			[]string{"mode", "state"},
		)),
		taskDuration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "orchestrator",
				Name:      "task_duration_seconds",
				Help:      "Time from task start to its terminal state.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"mode", "state"},
		)),
		tasksActive: register(reg, prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "orchestrator",
				Name:      "tasks_active",
				Help:      "Tasks currently running or cleaning up.",
			},
		)),
		chatExchanges: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "chat",
				Name:      "exchanges_total",
				Help:      "Chat exchanges by outcome.",
			},
			[]string{"outcome"},
		)),
		chatChunks: register(reg, prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "chat",
				Name:      "chunks_sent_total",
				Help:      "Answer chunks written to chat connections.",
			},
		)),
		pollErrors: register(reg, prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "poller",
				Name:      "status_errors_total",
				Help:      "Status queries that failed and were retried on the next tick.",
			},
		)),
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) T {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return collector
}

// TaskStarted records a newly accepted task.
func (m *Metrics) TaskStarted(mode string) {
	if m == nil {
		return
	}
	m.tasksStarted.WithLabelValues(mode).Inc()
	m.tasksActive.Inc()
}

// TaskFinished records a task reaching its terminal state.
func (m *Metrics) TaskFinished(mode, state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(mode, state).Inc()
	m.taskDuration.WithLabelValues(mode, state).Observe(elapsed.Seconds())
	m.tasksActive.Dec()
}

// ChatExchange counts one finished chat exchange.
func (m *Metrics) ChatExchange(outcome string) {
	if m == nil {
		return
	}
	m.chatExchanges.WithLabelValues(outcome).Inc()
}

// ChunksSent adds n streamed chunks.
func (m *Metrics) ChunksSent(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.chatChunks.Add(float64(n))
}

// PollError counts one failed status query.
func (m *Metrics) PollError() {
	if m == nil {
		return
	}
	m.pollErrors.Inc()
}
