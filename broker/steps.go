package broker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/shrtyk/logstream-core/broker/monitoring"
	"github.com/shrtyk/logstream-core/coordinator"
	"github.com/shrtyk/logstream-core/internal/flowcontrol"
	"github.com/shrtyk/logstream-core/internal/replication"
	"github.com/shrtyk/logstream-core/internal/snapshot"
	"github.com/shrtyk/logstream-core/internal/startup"
	"github.com/shrtyk/logstream-core/pkg/storage"
	"github.com/shrtyk/logstream-core/pkg/transport"
)

const walDirName = "log"

// newProcess declares the components of a broker in start order.
func newProcess(b *Broker) *startup.Process[*Broker] {
	return startup.New(fmt.Sprintf("partition-%d", b.cfg.Partition.ID), b.logger,
		startup.NewStep("log-storage", startStorage, stopStorage),
		startup.NewStep("snapshot-store", startSnapshots, stopSnapshots),
		startup.NewStep("flow-control", startFlowControl, stopFlowControl),
		startup.NewStep("transport", startTransport, stopTransport),
		startup.NewStep("replication", startReplication, stopReplication),
		startup.NewStep("grpc-server", startGRPCServer, stopGRPCServer),
		startup.NewStep("monitoring", startMonitoring, stopMonitoring),
	)
}

func startStorage(_ context.Context, b *Broker) (*Broker, error) {
	if b.storage == nil {
		ws, err := storage.NewWALStorage(filepath.Join(b.cfg.Partition.DataDir, walDirName), b.logger, b.cfg.Append)
		if err != nil {
			return b, err
		}
		b.storage = ws
	}
	b.advanceNextPosition()
	return b, nil
}

func stopStorage(_ context.Context, b *Broker) (*Broker, error) {
	return b, b.storage.Close()
}

func startSnapshots(_ context.Context, b *Broker) (*Broker, error) {
	b.snapshotMetrics = b.metrics.Snapshot(b.cfg.Partition.ID)
	store, err := snapshot.NewStore(b.cfg.Partition.DataDir, b.logger, b.snapshotMetrics)
	if err != nil {
		return b, err
	}
	b.snapshots = store
	b.removeSnapshotListener = store.AddListener(b.onSnapshotPersisted)
	return b, nil
}

func stopSnapshots(_ context.Context, b *Broker) (*Broker, error) {
	b.removeSnapshotListener()
	return b, errors.Join(b.abortTransfers(), b.snapshots.Close())
}

func startFlowControl(_ context.Context, b *Broker) (*Broker, error) {
	pid := b.cfg.Partition.ID

	sequencerLimiter, err := flowcontrol.NewSequencerLimiter(b.cfg.Backpressure, b.metrics.FlowControl(pid, "sequencer"))
	if err != nil {
		return b, err
	}
	appenderMetrics := b.metrics.Appender(pid)
	appenderLimiter, err := flowcontrol.NewFromConfig(b.cfg.Backpressure, flowcontrol.WithObserver(appenderMetrics))
	if err != nil {
		return b, err
	}

	b.sequencer = flowcontrol.NewSequencerFlowControl(sequencerLimiter, b.logger)
	b.appender = flowcontrol.NewAppenderFlowControl(appenderLimiter, appenderMetrics, b.logger)
	return b, nil
}

func stopFlowControl(_ context.Context, b *Broker) (*Broker, error) {
	b.sequencer.Close()
	return b, nil
}

func startTransport(_ context.Context, b *Broker) (*Broker, error) {
	if b.transport != nil {
		return b, nil
	}
	t, err := transport.Dial(b.cfg)
	if err != nil {
		return b, err
	}
	b.transport = t
	return b, nil
}

func stopTransport(_ context.Context, b *Broker) (*Broker, error) {
	return b, b.transport.Close()
}

func startReplication(_ context.Context, b *Broker) (*Broker, error) {
	b.replicator = replication.NewLogReplicator(
		b.transport, b.storage, b.cfg.Replication, b.logger, b.metrics.Replication(b.cfg.Partition.ID))
	b.coordinator = coordinator.NewCatchUpCoordinator(b.transport, b.replicator, b.cfg.Replication, b.logger)

	b.grpcServer = transport.NewGRPCServer(b.cfg.GRPCAddr, b.logger)
	b.replicationServer = replication.NewLogReplicationServer(b.grpcServer, b.logger)
	handler := replication.NewLogReaderHandler(b.storage, b.cfg.Replication.MaxBytesPerResponse)
	if err := b.replicationServer.Serve(handler); err != nil {
		return b, err
	}
	return b, b.grpcServer.ServeSnapshots(b)
}

func stopReplication(_ context.Context, b *Broker) (*Broker, error) {
	return b, b.replicationServer.Close()
}

func startGRPCServer(_ context.Context, b *Broker) (*Broker, error) {
	if b.cfg.GRPCAddr == "" {
		return b, nil
	}
	return b, b.grpcServer.Start()
}

func stopGRPCServer(_ context.Context, b *Broker) (*Broker, error) {
	return b, b.grpcServer.Stop()
}

func startMonitoring(_ context.Context, b *Broker) (*Broker, error) {
	if b.cfg.HttpMonitoringAddr == "" {
		return b, nil
	}
	router := monitoring.NewRouter(func() any { return b.Status() }, b.gatherer, b.logger)
	b.monitoring = monitoring.NewServer(b.cfg.HttpMonitoringAddr, router, b.logger)
	return b, b.monitoring.Start()
}

func stopMonitoring(ctx context.Context, b *Broker) (*Broker, error) {
	if b.monitoring == nil {
		return b, nil
	}
	return b, b.monitoring.Stop(ctx)
}
