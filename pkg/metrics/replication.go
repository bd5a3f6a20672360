package metrics

type ReplicationMetrics struct {
	r         *Registry
	partition string
}

func (r *Registry) Replication(partitionID int) *ReplicationMetrics {
	return &ReplicationMetrics{r: r, partition: partitionLabel(partitionID)}
}

func (m *ReplicationMetrics) RoundCompleted() {
	m.r.replicationRounds.WithLabelValues(m.partition).Inc()
}

func (m *ReplicationMetrics) SessionFailed() {
	m.r.replicationErrors.WithLabelValues(m.partition).Inc()
}

type SnapshotMetrics struct {
	r         *Registry
	partition string
}

func (r *Registry) Snapshot(partitionID int) *SnapshotMetrics {
	return &SnapshotMetrics{r: r, partition: partitionLabel(partitionID)}
}

// Persisted counts a persisted snapshot. origin is "taken" or "received".
func (m *SnapshotMetrics) Persisted(origin string) {
	m.r.snapshotsPersisted.WithLabelValues(m.partition, origin).Inc()
}

func (m *SnapshotMetrics) ChunkSent() {
	m.r.snapshotChunks.WithLabelValues(m.partition, "sent").Inc()
}

func (m *SnapshotMetrics) ChunkReceived() {
	m.r.snapshotChunks.WithLabelValues(m.partition, "received").Inc()
}
