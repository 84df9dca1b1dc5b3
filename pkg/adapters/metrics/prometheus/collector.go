package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aescanero/canvas/pkg/ports"
)

var _ ports.MetricsCollector = (*Collector)(nil)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	graphsSubmitted   *prometheus.CounterVec
	tasksCompleted    *prometheus.CounterVec
	taskDuration      *prometheus.HistogramVec
	tasksRetried      *prometheus.CounterVec
	replacements      *prometheus.CounterVec
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector registered on reg.
// A nil reg uses the default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		graphsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvas_graphs_submitted_total",
				Help: "Total number of graphs submitted",
			},
			[]string{"kind"},
		),
		tasksCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvas_tasks_completed_total",
				Help: "Total number of task invocations that reached a terminal state",
			},
			[]string{"task", "state"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "canvas_task_duration_seconds",
				Help:    "Task handler duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"task"},
		),
		tasksRetried: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvas_tasks_retried_total",
				Help: "Total number of task retries scheduled",
			},
			[]string{"task"},
		),
		replacements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvas_task_replacements_total",
				Help: "Total number of tasks that replaced themselves with a sub-graph",
			},
			[]string{"task"},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "canvas_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "canvas_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "canvas_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordGraphSubmitted records a graph submission by root node kind
func (c *Collector) RecordGraphSubmitted(kind string) {
	c.graphsSubmitted.WithLabelValues(kind).Inc()
}

// RecordTaskCompleted records a finished task invocation
func (c *Collector) RecordTaskCompleted(taskName, state string, duration time.Duration) {
	c.tasksCompleted.WithLabelValues(taskName, state).Inc()
	c.taskDuration.WithLabelValues(taskName).Observe(duration.Seconds())
}

// RecordTaskRetried records a scheduled retry
func (c *Collector) RecordTaskRetried(taskName string) {
	c.tasksRetried.WithLabelValues(taskName).Inc()
}

// RecordReplacement records a task replacing itself
func (c *Collector) RecordReplacement(taskName string) {
	c.replacements.WithLabelValues(taskName).Inc()
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}
