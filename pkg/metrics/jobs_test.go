package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobMetricsSplitsRunsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewJobMetrics(reg)

	job := "reoptimize-partial-orders"
	m.ObserveRun(job, 250*time.Millisecond, nil)
	m.ObserveRun(job, 100*time.Millisecond, nil)
	m.ObserveRun(job, time.Second, errors.New("boom"))

	mfs, err := reg.Gather()
	require.NoError(t, err)

	success, err := fetchCounterValue(mfs, "allocator_job_runs_total", map[string]string{"job": job, "result": ResultSuccess})
	require.NoError(t, err)
	assert.Equal(t, float64(2), success)

	failure, err := fetchCounterValue(mfs, "allocator_job_runs_total", map[string]string{"job": job, "result": ResultFailure})
	require.NoError(t, err)
	assert.Equal(t, float64(1), failure)

	hist := findMetricFamily(mfs, "allocator_job_duration_seconds")
	require.NotNil(t, hist)
	assert.Equal(t, uint64(3), hist.GetMetric()[0].GetHistogram().GetSampleCount())
	assert.InDelta(t, 1.35, hist.GetMetric()[0].GetHistogram().GetSampleSum(), 0.0001)
}

func TestJobMetricsCountsOutboxOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewJobMetrics(reg)

	m.ObserveOutboxEvent("order_canceled", "published")
	m.ObserveOutboxEvent("order_canceled", "published")
	m.ObserveOutboxEvent("", "terminal")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	published, err := fetchCounterValue(mfs, "allocator_outbox_events_total", map[string]string{"event_type": "order_canceled", "outcome": "published"})
	require.NoError(t, err)
	assert.Equal(t, float64(2), published)

	unknown, err := fetchCounterValue(mfs, "allocator_outbox_events_total", map[string]string{"event_type": "unknown", "outcome": "terminal"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), unknown)
}

func TestJobMetricsNilSafe(t *testing.T) {
	var m *JobMetrics
	m.ObserveRun("job", time.Second, nil)
	m.ObserveOutboxEvent("order_created", "published")

	NewJobMetrics(nil).ObserveRun("job", time.Second, nil)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if hasLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q has no series %v", name, labels)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func hasLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
