package api

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Intent names the kind of command being written to the log.
type Intent string

// Broker defines the public interface of a single partition broker.
type Broker interface {
	// Start brings up all components in order. It must be called once.
	Start(ctx context.Context) error

	// Stop tears down every started component in reverse order. It is safe
	// to call Stop concurrently with Start and more than once.
	Stop(ctx context.Context) error

	// Write admits and appends a command. It returns ErrWriteRejected when
	// backpressure sheds the command.
	Write(ctx context.Context, intent Intent, payload []byte) (position int64, err error)

	// CatchUp replicates entries in (from, to] from remote members.
	CatchUp(ctx context.Context, from, to int64) (int64, error)

	// TakeSnapshot writes a snapshot of the state up to processedPosition.
	TakeSnapshot(ctx context.Context, processedPosition int64, write func(dir string) error) (SnapshotInfo, error)

	// SendLatestSnapshot transfers the latest persisted snapshot to member.
	SendLatestSnapshot(ctx context.Context, member MemberID) error
}

// SnapshotInfo describes a persisted snapshot.
type SnapshotInfo struct {
	ID              string
	Path            string
	CompactionBound int64
	Checksum        uint32
}

// BrokerBuilder is an interface for constructing a Broker.
type BrokerBuilder interface {
	// Build constructs the broker. It returns an error if any required
	// component is missing.
	Build() (Broker, error)

	// WithConfig sets the configuration. If not provided, DefaultConfig is used.
	WithConfig(*Config) BrokerBuilder

	// WithLogStorage sets a custom log storage. If not provided a WAL based
	// storage in the partition data directory is used.
	WithLogStorage(LogStorage) BrokerBuilder

	// WithTransport sets a custom transport. If not provided a gRPC transport
	// dialing Config.Members is used.
	WithTransport(Transport) BrokerBuilder

	// WithLogger sets a custom slog.Logger.
	WithLogger(*slog.Logger) BrokerBuilder

	// WithRegisterer sets the registry metrics are registered with.
	// If not provided a fresh registry is created per broker.
	WithRegisterer(prometheus.Registerer) BrokerBuilder
}
