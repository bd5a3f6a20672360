// Package metrics exposes the observability surface of the logstream core.
//
// All collectors are registered with an explicitly passed prometheus.Registerer,
// there is no package level registry. Components receive small per partition
// views (AppenderMetrics, FlowControlMetrics, ...) with every label already bound.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "logstream"

const (
	labelPartition = "partition"
	labelLimiter   = "limiter"
	labelOutcome   = "outcome"
)

// Registry owns every collector of one process.
type Registry struct {
	triedAppends    *prometheus.CounterVec
	deferredAppends *prometheus.CounterVec
	lastCommitted   *prometheus.GaugeVec
	lastWritten     *prometheus.GaugeVec
	appendLatency   *prometheus.HistogramVec
	commitLatency   *prometheus.HistogramVec

	inflight   *prometheus.GaugeVec
	limit      *prometheus.GaugeVec
	admissions *prometheus.CounterVec

	replicationRounds *prometheus.CounterVec
	replicationErrors *prometheus.CounterVec

	snapshotsPersisted *prometheus.CounterVec
	snapshotChunks     *prometheus.CounterVec
}

// New creates collectors and registers them with reg.
func New(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	latencyBuckets := prometheus.ExponentialBuckets(0.0001, 2, 16)

	return &Registry{
		triedAppends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appender",
			Name:      "tried_appends_total",
			Help:      "Number of append attempts.",
		}, []string{labelPartition}),
		deferredAppends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appender",
			Name:      "deferred_appends_total",
			Help:      "Number of append attempts deferred by backpressure.",
		}, []string{labelPartition}),
		lastCommitted: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "appender",
			Name:      "last_committed_position",
			Help:      "Highest committed log position.",
		}, []string{labelPartition}),
		lastWritten: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "appender",
			Name:      "last_written_position",
			Help:      "Highest written log position.",
		}, []string{labelPartition}),
		appendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "appender",
			Name:      "append_latency_seconds",
			Help:      "Time from admission until the block was written.",
			Buckets:   latencyBuckets,
		}, []string{labelPartition}),
		commitLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "appender",
			Name:      "commit_latency_seconds",
			Help:      "Time from write until the block was committed.",
			Buckets:   latencyBuckets,
		}, []string{labelPartition}),

		inflight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "flow_control",
			Name:      "inflight",
			Help:      "Operations currently admitted and not yet released.",
		}, []string{labelPartition, labelLimiter}),
		limit: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "flow_control",
			Name:      "limit",
			Help:      "Current concurrency limit.",
		}, []string{labelPartition, labelLimiter}),
		admissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow_control",
			Name:      "admissions_total",
			Help:      "Admission decisions by outcome.",
		}, []string{labelPartition, labelLimiter, labelOutcome}),

		replicationRounds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "rounds_total",
			Help:      "Catch-up request/response round trips.",
		}, []string{labelPartition}),
		replicationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "session_errors_total",
			Help:      "Failed catch-up sessions.",
		}, []string{labelPartition}),

		snapshotsPersisted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "persisted_total",
			Help:      "Persisted snapshots by origin.",
		}, []string{labelPartition, labelOutcome}),
		snapshotChunks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "chunks_total",
			Help:      "Snapshot chunks sent or received.",
		}, []string{labelPartition, labelOutcome}),
	}
}

func partitionLabel(id int) string {
	return strconv.Itoa(id)
}
