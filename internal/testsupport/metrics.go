// Package testsupport holds helpers shared by the package tests: Prometheus
// assertions against the default registry and, under containers/, disposable
// Postgres and Redis instances.
package testsupport

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	asyncWait = 2 * time.Second
	asyncTick = 50 * time.Millisecond
)

// GetMetricValue returns the value of the first series of metricName whose labels
// include every pair in labels. Counters and gauges report their value, histograms
// their sample count. A missing series reads as 0.
func GetMetricValue(t *testing.T, metricName string, labels map[string]string) float64 {
	t.Helper()

	family := findFamily(t, metricName)
	if family == nil {
		return 0
	}

	for _, m := range family.GetMetric() {
		if !hasLabels(m, labels) {
			continue
		}
		switch {
		case m.GetCounter() != nil:
			return m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			return m.GetGauge().GetValue()
		case m.GetHistogram() != nil:
			return float64(m.GetHistogram().GetSampleCount())
		}
	}
	return 0
}

// AssertMetricDelta runs fn and asserts the metric moved by exactly delta.
func AssertMetricDelta(t *testing.T, metricName string, labels map[string]string, delta float64, fn func()) {
	t.Helper()

	before := GetMetricValue(t, metricName, labels)
	fn()
	after := GetMetricValue(t, metricName, labels)

	assert.Equal(t, delta, after-before, "metric %s%v delta mismatch", metricName, labels)
}

// AssertMetricDeltaAsync runs fn and waits for the metric to move by delta.
// Use it when the increment happens on another goroutine, e.g. a pub/sub listener.
func AssertMetricDeltaAsync(t *testing.T, metricName string, labels map[string]string, delta float64, fn func()) {
	t.Helper()

	before := GetMetricValue(t, metricName, labels)
	fn()

	require.Eventually(t, func() bool {
		return GetMetricValue(t, metricName, labels) == before+delta
	}, asyncWait, asyncTick, "metric %s%v never moved by %+.0f", metricName, labels, delta)
}

// AssertHistogramRecorded asserts that the histogram holds at least one sample.
func AssertHistogramRecorded(t *testing.T, metricName string, labels map[string]string) {
	t.Helper()

	assert.Positive(t, GetMetricValue(t, metricName, labels), "histogram %s%v has no samples", metricName, labels)
}

// findFamily gathers the default registry. Gather returns families sorted by name.
func findFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err, "gather metrics")

	i, found := slices.BinarySearchFunc(families, name, func(mf *dto.MetricFamily, target string) int {
		return strings.Compare(mf.GetName(), target)
	})
	if !found {
		return nil
	}
	return families[i]
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	for name, value := range want {
		idx := slices.IndexFunc(m.GetLabel(), func(p *dto.LabelPair) bool { return p.GetName() == name })
		if idx < 0 || m.GetLabel()[idx].GetValue() != value {
			return false
		}
	}
	return true
}
