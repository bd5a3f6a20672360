package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/internal/snapshot"
	"github.com/shrtyk/logstream-core/pkg/logger"
	"github.com/shrtyk/logstream-core/pkg/protocol"
	"golang.org/x/time/rate"
)

// TakeSnapshot takes a snapshot of the state processed up to
// processedPosition. write fills the snapshot directory. Taking a snapshot
// that already exists returns the existing one.
func (b *Broker) TakeSnapshot(
	ctx context.Context, processedPosition int64, write func(dir string) error,
) (api.SnapshotInfo, error) {
	if !b.running.Load() {
		return api.SnapshotInfo{}, api.ErrBrokerStopped
	}
	commit := b.storage.CommitPosition()
	if processedPosition > commit {
		return api.SnapshotInfo{}, fmt.Errorf(
			"processed position %d is ahead of commit position %d", processedPosition, commit)
	}

	id := snapshot.ID{
		Index:             processedPosition,
		ProcessedPosition: processedPosition,
		ExportedPosition:  commit,
	}
	transient, err := b.snapshots.NewTransientSnapshot(id)
	if errors.Is(err, api.ErrSnapshotAlreadyExists) {
		existing, err := b.snapshots.Get(id)
		if err != nil {
			return api.SnapshotInfo{}, err
		}
		return snapshotInfo(existing), nil
	}
	if err != nil {
		return api.SnapshotInfo{}, err
	}

	if err := transient.Take(ctx, write); err != nil {
		return api.SnapshotInfo{}, errors.Join(err, transient.Abort())
	}
	persisted, err := transient.Persist()
	switch {
	case errors.Is(err, api.ErrSnapshotAlreadyExists):
	case err != nil:
		return api.SnapshotInfo{}, errors.Join(err, transient.Abort())
	}
	return snapshotInfo(persisted), nil
}

func snapshotInfo(p *snapshot.PersistedSnapshot) api.SnapshotInfo {
	return api.SnapshotInfo{
		ID:              p.ID().String(),
		Path:            p.Path(),
		CompactionBound: p.CompactionBound(),
		Checksum:        p.Checksum(),
	}
}

type compactor interface {
	Compact(bound int64) error
}

type countingCompactor interface {
	Compact(bound int64) int
}

// onSnapshotPersisted compacts the log behind the new latest snapshot and
// drops snapshots beyond the retention.
func (b *Broker) onSnapshotPersisted(p *snapshot.PersistedSnapshot) {
	bound := p.CompactionBound()
	switch s := b.storage.(type) {
	case compactor:
		if err := s.Compact(bound); err != nil {
			b.logger.Warn("failed to compact log", slog.Int64("bound", bound), logger.ErrAttr(err))
		}
	case countingCompactor:
		removed := s.Compact(bound)
		b.logger.Debug("compacted log", slog.Int64("bound", bound), slog.Int("removed", removed))
	}

	if _, err := b.snapshots.KeepLatest(b.cfg.Snapshots.Retain); err != nil {
		b.logger.Warn("failed to delete outdated snapshots", logger.ErrAttr(err))
	}
}

// SendLatestSnapshot transfers the latest persisted snapshot to member, one
// chunk per file, at most Snapshots.TransferRate chunks per second.
func (b *Broker) SendLatestSnapshot(ctx context.Context, member api.MemberID) error {
	if !b.running.Load() {
		return api.ErrBrokerStopped
	}
	latest, ok := b.snapshots.LatestSnapshot()
	if !ok {
		return api.ErrSnapshotNotFound
	}
	reader, err := latest.ChunkReader()
	if err != nil {
		return err
	}
	if reader.Len() == 0 {
		return fmt.Errorf("cannot send snapshot %s: %w", latest.ID(), snapshot.ErrEmpty)
	}

	limiter := rate.NewLimiter(rate.Limit(b.cfg.Snapshots.TransferRate), max(b.cfg.Snapshots.TransferBurst, 1))
	log := b.logger.With(slog.String("snapshot", latest.ID().String()), slog.String("member", string(member)))
	log.Info("sending snapshot", slog.Int("chunks", reader.Len()))

	var ack *protocol.SnapshotChunkAck
	for {
		chunk, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		ack, err = b.transport.SendSnapshotChunk(ctx, member, chunk)
		if err != nil {
			return fmt.Errorf("failed to send chunk %s of snapshot %s: %w", chunk.ChunkName, chunk.SnapshotID, err)
		}
		b.snapshotMetrics.ChunkSent()
		if ack.Persisted {
			// member had the snapshot already
			break
		}
	}

	if ack == nil || !ack.Persisted {
		return fmt.Errorf("member %s did not persist snapshot %s", member, latest.ID())
	}
	log.Info("sent snapshot")
	return nil
}

// OnSnapshotChunk applies a chunk sent by another member. The snapshot is
// persisted once its last chunk arrives. A chunk failing validation aborts
// the whole transfer.
func (b *Broker) OnSnapshotChunk(_ context.Context, chunk *protocol.SnapshotChunk) (*protocol.SnapshotChunkAck, error) {
	if !b.running.Load() {
		return nil, api.ErrBrokerStopped
	}

	b.recvMu.Lock()
	defer b.recvMu.Unlock()

	received, ok := b.receiving[chunk.SnapshotID]
	if !ok {
		var err error
		received, err = b.snapshots.NewReceivedSnapshot(chunk.SnapshotID)
		if errors.Is(err, api.ErrSnapshotAlreadyExists) {
			return &protocol.SnapshotChunkAck{Applied: true, Persisted: true}, nil
		}
		if err != nil {
			return nil, err
		}
		b.receiving[chunk.SnapshotID] = received
	}

	if err := received.Apply(chunk); err != nil {
		delete(b.receiving, chunk.SnapshotID)
		return nil, errors.Join(err, received.Abort())
	}
	b.snapshotMetrics.ChunkReceived()
	if !received.Complete() {
		return &protocol.SnapshotChunkAck{Applied: true}, nil
	}

	delete(b.receiving, chunk.SnapshotID)
	if _, err := received.Persist(); err != nil && !errors.Is(err, api.ErrSnapshotAlreadyExists) {
		if abortErr := received.Abort(); abortErr != nil {
			b.logger.Warn("failed to abort received snapshot", logger.ErrAttr(abortErr))
		}
		return nil, err
	}
	return &protocol.SnapshotChunkAck{Applied: true, Persisted: true}, nil
}

// abortTransfers drops every snapshot still being received.
func (b *Broker) abortTransfers() error {
	b.recvMu.Lock()
	defer b.recvMu.Unlock()

	var errs error
	for id, received := range b.receiving {
		errs = errors.Join(errs, received.Abort())
		delete(b.receiving, id)
	}
	return errs
}
