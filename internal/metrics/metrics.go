// Package metrics exposes Scotty's Prometheus collectors: task throughput,
// engine call latency and Output Bus backlog depth, grounded on the
// teacher's infrastructure/metrics registration pattern.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector Scotty registers.
type Metrics struct {
	TasksTotal       *prometheus.CounterVec
	TaskDuration     *prometheus.HistogramVec
	TasksInFlight    prometheus.Gauge
	EngineCallTotal  *prometheus.CounterVec
	EngineCallLatency *prometheus.HistogramVec
	BusBacklog       *prometheus.GaugeVec
	HTTPRequestsTotal *prometheus.CounterVec
}

// New builds and registers every collector against registerer.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scotty_tasks_total",
			Help: "Total number of tasks by kind and terminal state.",
		}, []string{"kind", "state"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scotty_task_duration_seconds",
			Help:    "Task duration from spawn to terminal state.",
			Buckets: []float64{.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),
		TasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scotty_tasks_in_flight",
			Help: "Number of tasks currently Running.",
		}),
		EngineCallTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scotty_engine_calls_total",
			Help: "Total engine client calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		EngineCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scotty_engine_call_latency_seconds",
			Help:    "Engine client call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		BusBacklog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scotty_output_bus_backlog",
			Help: "Number of buffered lines per task's output bus.",
		}, []string{"task_id"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scotty_http_requests_total",
			Help: "Total HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.TasksTotal, m.TaskDuration, m.TasksInFlight,
			m.EngineCallTotal, m.EngineCallLatency, m.BusBacklog,
			m.HTTPRequestsTotal,
		)
	}
	return m
}

func (m *Metrics) RecordTask(kind, state string, duration time.Duration) {
	m.TasksTotal.WithLabelValues(kind, state).Inc()
	m.TaskDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Metrics) RecordEngineCall(operation, outcome string, duration time.Duration) {
	m.EngineCallTotal.WithLabelValues(operation, outcome).Inc()
	m.EngineCallLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) SetBusBacklog(taskID string, n int) {
	m.BusBacklog.WithLabelValues(taskID).Set(float64(n))
}

func (m *Metrics) DeleteBusBacklog(taskID string) {
	m.BusBacklog.DeleteLabelValues(taskID)
}

func (m *Metrics) RecordHTTPRequest(method, route, status string) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
}
