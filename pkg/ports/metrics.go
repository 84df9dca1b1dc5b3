package ports

import "time"

// MetricsCollector receives orchestration metrics.
type MetricsCollector interface {
	RecordGraphSubmitted(kind string)
	RecordTaskCompleted(taskName, state string, duration time.Duration)
	RecordTaskRetried(taskName string)
	RecordReplacement(taskName string)
	RecordWorkerPoolStatus(idle, busy, stopped int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordGraphSubmitted(string)                       {}
func (NopMetrics) RecordTaskCompleted(string, string, time.Duration) {}
func (NopMetrics) RecordTaskRetried(string)                          {}
func (NopMetrics) RecordReplacement(string)                          {}
func (NopMetrics) RecordWorkerPoolStatus(int, int, int)              {}
