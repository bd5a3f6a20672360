package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppenderMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	m := r.Appender(1)
	m.IncreaseTriedAppends()
	m.IncreaseTriedAppends()
	m.IncreaseDeferredAppends()
	m.SetLastWrittenPosition(42)
	m.SetLastCommittedPosition(40)
	m.SetInflight(3)
	m.SetLimit(20)
	m.ObserveAppendLatency(time.Millisecond)
	m.ObserveCommitLatency(2 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.triedAppends.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.deferredAppends.WithLabelValues("1")))
	assert.Equal(t, 42.0, testutil.ToFloat64(r.lastWritten.WithLabelValues("1")))
	assert.Equal(t, 40.0, testutil.ToFloat64(r.lastCommitted.WithLabelValues("1")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.inflight.WithLabelValues("1", "appender")))
	assert.Equal(t, 20.0, testutil.ToFloat64(r.limit.WithLabelValues("1", "appender")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.appendLatency))

	expected := `
# HELP logstream_appender_tried_appends_total Number of append attempts.
# TYPE logstream_appender_tried_appends_total counter
logstream_appender_tried_appends_total{partition="1"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"logstream_appender_tried_appends_total"))
}

func TestFlowControlMetricsArePartitioned(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.FlowControl(1, "sequencer").Rejected()
	r.FlowControl(2, "sequencer").Accepted()
	r.FlowControl(2, "sequencer").Accepted()

	assert.Equal(t, 1.0, testutil.ToFloat64(r.admissions.WithLabelValues("1", "sequencer", "rejected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.admissions.WithLabelValues("1", "sequencer", "accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.admissions.WithLabelValues("2", "sequencer", "accepted")))
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
