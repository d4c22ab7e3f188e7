package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions prometheus.Gauge
	sessionsTotal  prometheus.Counter

	runTotal    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	eventsPublishedTotal *prometheus.CounterVec
	eventsDroppedTotal   *prometheus.CounterVec
	busSubscribers       prometheus.Gauge

	historySaveDuration prometheus.Histogram
	historyLoadDuration prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "sessions_active",
					Help: "Current number of registered sessions.",
				},
			),
			sessionsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_created_total",
					Help: "Total sessions created.",
				},
			),
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "runs_total",
					Help: "Total units of work by terminal status.",
				},
				[]string{"status"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "run_duration_seconds",
					Help:    "Unit-of-work duration in seconds by terminal status.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_executions_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			eventsPublishedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bus_events_published_total",
					Help: "Total events published by event type.",
				},
				[]string{"type"},
			),
			eventsDroppedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bus_events_dropped_total",
					Help: "Total events dropped by subscribers under drop-oldest policy.",
				},
				[]string{"type"},
			),
			busSubscribers: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "bus_subscribers",
					Help: "Current number of bus subscriptions.",
				},
			),
			historySaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "history_save_duration_seconds",
					Help:    "Session history append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			historyLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "history_load_duration_seconds",
					Help:    "Session history load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionsTotal,
			m.runTotal,
			m.runDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.eventsPublishedTotal,
			m.eventsDroppedTotal,
			m.busSubscribers,
			m.historySaveDuration,
			m.historyLoadDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns an HTTP handler exposing the metrics.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// SetActiveSessions records the current session count.
func SetActiveSessions(n int) {
	getMetrics().activeSessions.Set(float64(n))
}

// RecordSessionCreated increments the created-session counter.
func RecordSessionCreated() {
	getMetrics().sessionsTotal.Inc()
}

// RecordRun records one finished unit of work.
// status is one of "completed", "failed", "interrupted".
func RecordRun(status string, duration time.Duration) {
	m := getMetrics()
	m.runTotal.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordToolExecution records one tool execution.
func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordEventPublished records one published event.
func RecordEventPublished(eventType string) {
	getMetrics().eventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// RecordEventDropped records one event discarded under drop-oldest.
func RecordEventDropped(eventType string) {
	getMetrics().eventsDroppedTotal.WithLabelValues(eventType).Inc()
}

// SetBusSubscribers records the current subscription count.
func SetBusSubscribers(n int) {
	getMetrics().busSubscribers.Set(float64(n))
}

// RecordHistorySave records one history append.
func RecordHistorySave(duration time.Duration) {
	getMetrics().historySaveDuration.Observe(duration.Seconds())
}

// RecordHistoryLoad records one history load.
func RecordHistoryLoad(duration time.Duration) {
	getMetrics().historyLoadDuration.Observe(duration.Seconds())
}
