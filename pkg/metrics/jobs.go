package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// JobMetrics tracks background work: cron jobs, the outbox publisher and
// the event-driven reoptimization consumer.
type JobMetrics struct {
	runs      *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	published *prometheus.CounterVec
}

func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocator_job_runs_total",
		Help: "Background job runs grouped by job and result.",
	}, []string{"job", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "allocator_job_duration_seconds",
		Help:    "Background job run duration.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"job"})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocator_outbox_events_total",
		Help: "Outbox rows handled by the publisher grouped by event type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(runs, duration, published)
	return &JobMetrics{runs: runs, duration: duration, published: published}
}

// ObserveRun records one execution of job. A nil err counts as success.
func (m *JobMetrics) ObserveRun(job string, took time.Duration, err error) {
	if m == nil || m.runs == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	job = normalizeLabel(job)
	m.runs.WithLabelValues(job, result).Inc()
	m.duration.WithLabelValues(job).Observe(took.Seconds())
}

// ObserveOutboxEvent records what happened to one outbox row: published,
// retry or terminal.
func (m *JobMetrics) ObserveOutboxEvent(eventType, outcome string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
