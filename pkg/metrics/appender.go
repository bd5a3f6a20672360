package metrics

import "time"

// AppenderMetrics is the per partition view used by append flow control.
type AppenderMetrics struct {
	*FlowControlMetrics
	r         *Registry
	partition string
}

func (r *Registry) Appender(partitionID int) *AppenderMetrics {
	return &AppenderMetrics{
		FlowControlMetrics: r.FlowControl(partitionID, "appender"),
		r:                  r,
		partition:          partitionLabel(partitionID),
	}
}

func (m *AppenderMetrics) IncreaseTriedAppends() {
	m.r.triedAppends.WithLabelValues(m.partition).Inc()
}

func (m *AppenderMetrics) IncreaseDeferredAppends() {
	m.r.deferredAppends.WithLabelValues(m.partition).Inc()
}

func (m *AppenderMetrics) SetLastCommittedPosition(pos int64) {
	m.r.lastCommitted.WithLabelValues(m.partition).Set(float64(pos))
}

func (m *AppenderMetrics) SetLastWrittenPosition(pos int64) {
	m.r.lastWritten.WithLabelValues(m.partition).Set(float64(pos))
}

func (m *AppenderMetrics) ObserveAppendLatency(d time.Duration) {
	m.r.appendLatency.WithLabelValues(m.partition).Observe(d.Seconds())
}

func (m *AppenderMetrics) ObserveCommitLatency(d time.Duration) {
	m.r.commitLatency.WithLabelValues(m.partition).Observe(d.Seconds())
}
