package metrics

// FlowControlMetrics is bound to one limiter of one partition.
type FlowControlMetrics struct {
	r      *Registry
	labels [2]string
}

func (r *Registry) FlowControl(partitionID int, limiter string) *FlowControlMetrics {
	return &FlowControlMetrics{
		r:      r,
		labels: [2]string{partitionLabel(partitionID), limiter},
	}
}

func (m *FlowControlMetrics) SetInflight(n int) {
	m.r.inflight.WithLabelValues(m.labels[0], m.labels[1]).Set(float64(n))
}

func (m *FlowControlMetrics) SetLimit(n int) {
	m.r.limit.WithLabelValues(m.labels[0], m.labels[1]).Set(float64(n))
}

func (m *FlowControlMetrics) Accepted() {
	m.r.admissions.WithLabelValues(m.labels[0], m.labels[1], "accepted").Inc()
}

func (m *FlowControlMetrics) Rejected() {
	m.r.admissions.WithLabelValues(m.labels[0], m.labels[1], "rejected").Inc()
}
