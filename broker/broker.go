// Package broker runs one partition of the log: the write path with its
// admission control, catch-up from other members and the snapshot lifecycle.
package broker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/broker/monitoring"
	"github.com/shrtyk/logstream-core/coordinator"
	"github.com/shrtyk/logstream-core/internal/flowcontrol"
	"github.com/shrtyk/logstream-core/internal/replication"
	"github.com/shrtyk/logstream-core/internal/snapshot"
	"github.com/shrtyk/logstream-core/internal/startup"
	"github.com/shrtyk/logstream-core/pkg/metrics"
	"github.com/shrtyk/logstream-core/pkg/transport"
)

var (
	_ api.Broker               = (*Broker)(nil)
	_ api.SnapshotChunkHandler = (*Broker)(nil)
)

type Broker struct {
	cfg      *api.Config
	logger   *slog.Logger
	metrics  *metrics.Registry
	gatherer prometheus.Gatherer
	process  *startup.Process[*Broker]
	running  atomic.Bool

	storage         api.LogStorage
	transport       api.Transport
	snapshots       *snapshot.Store
	snapshotMetrics *metrics.SnapshotMetrics

	sequencer *flowcontrol.SequencerFlowControl
	appender  *flowcontrol.AppenderFlowControl

	replicator        *replication.LogReplicator
	coordinator       *coordinator.CatchUpCoordinator
	replicationServer *replication.LogReplicationServer
	grpcServer        *transport.GRPCServer
	monitoring        *monitoring.Server

	removeSnapshotListener func()

	// writeMu serializes position assignment with enqueueing to storage.
	writeMu      sync.Mutex
	nextPosition int64

	// receiving holds snapshots under transfer from other members by id.
	recvMu    sync.Mutex
	receiving map[string]*snapshot.ReceivedSnapshot
}

// Start brings all components up. On failure the components started so far
// keep running until Stop is called.
func (b *Broker) Start(ctx context.Context) error {
	if _, err := b.process.Startup(ctx, b); err != nil {
		return err
	}
	b.running.Store(true)
	b.logger.Info("broker started", slog.Int64("next_position", b.NextPosition()))
	return nil
}

func (b *Broker) Stop(ctx context.Context) error {
	b.running.Store(false)
	if t := b.cfg.Timings.ShutdownTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	_, err := b.process.Shutdown(ctx, b)
	return err
}

// Service exposes the member facing handlers, for transports that bypass gRPC.
func (b *Broker) Service() transport.LogReplicationService {
	return b.grpcServer
}

// GRPCAddr returns the address the gRPC server listens on.
func (b *Broker) GRPCAddr() string {
	if b.grpcServer == nil {
		return ""
	}
	return b.grpcServer.Addr()
}

// MonitoringAddr returns the address of the monitoring server or "" if disabled.
func (b *Broker) MonitoringAddr() string {
	if b.monitoring == nil {
		return ""
	}
	return b.monitoring.Addr()
}

// NextPosition is the position the next written command gets.
func (b *Broker) NextPosition() int64 {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.nextPosition
}

// Storage returns the partition log.
func (b *Broker) Storage() api.LogStorage {
	return b.storage
}

// CatchUp replicates (from, to] from other members, moving to another member
// when one fails.
func (b *Broker) CatchUp(ctx context.Context, from, to int64) (int64, error) {
	if !b.running.Load() {
		return from, api.ErrBrokerStopped
	}
	position, err := b.coordinator.CatchUp(ctx, from, to)
	b.advanceNextPosition()
	return position, err
}

func (b *Broker) advanceNextPosition() {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.nextPosition = max(b.nextPosition, b.storage.LastPosition()+1, 1)
}
