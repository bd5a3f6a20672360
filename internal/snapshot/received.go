package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/pkg/protocol"
)

// ReceivedSnapshot is a snapshot assembled from chunks sent by another member.
// Chunks are written as they arrive; nothing is durable until Persist.
type ReceivedSnapshot struct {
	mu    sync.Mutex
	store *Store
	id    ID
	dir   string
	state pendingState

	chunks           map[string]struct{}
	totalCount       int32
	snapshotChecksum uint32
}

func (r *ReceivedSnapshot) ID() ID { return r.id }

func (r *ReceivedSnapshot) Path() string { return r.dir }

// Apply validates chunk and writes it into the working directory. A failed
// chunk is reported as *WriteError and leaves earlier chunks in place.
// Applying a chunk that was already written is a no-op.
func (r *ReceivedSnapshot) Apply(chunk *protocol.SnapshotChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.state.check(); err != nil {
		return err
	}
	if err := r.validate(chunk); err != nil {
		return &WriteError{SnapshotID: r.id.String(), Chunk: chunk.ChunkName, Err: err}
	}
	if _, ok := r.chunks[chunk.ChunkName]; ok {
		return nil
	}

	path := filepath.Join(r.dir, chunk.ChunkName)
	if err := writeAndSyncFile(path, chunk.Content, 0644); err != nil {
		return &WriteError{SnapshotID: r.id.String(), Chunk: chunk.ChunkName, Err: err}
	}

	if len(r.chunks) == 0 {
		r.totalCount = chunk.TotalCount
		r.snapshotChecksum = chunk.SnapshotChecksum
	}
	r.chunks[chunk.ChunkName] = struct{}{}
	return nil
}

func (r *ReceivedSnapshot) validate(chunk *protocol.SnapshotChunk) error {
	if chunk.SnapshotID != r.id.String() {
		return fmt.Errorf("chunk belongs to snapshot %s", chunk.SnapshotID)
	}
	name := chunk.ChunkName
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid chunk name %q", name)
	}
	if chunk.TotalCount <= 0 {
		return fmt.Errorf("invalid total count %d", chunk.TotalCount)
	}
	if len(r.chunks) > 0 {
		if chunk.TotalCount != r.totalCount {
			return fmt.Errorf("total count %d differs from %d", chunk.TotalCount, r.totalCount)
		}
		if chunk.SnapshotChecksum != r.snapshotChecksum {
			return fmt.Errorf("%w: snapshot checksum %08x differs from %08x",
				api.ErrCorruptedSnapshot, chunk.SnapshotChecksum, r.snapshotChecksum)
		}
	}
	if actual := Checksum(chunk.Content); actual != chunk.Checksum {
		return fmt.Errorf("%w: expected %08x, got %08x", api.ErrCorruptedSnapshot, chunk.Checksum, actual)
	}
	return nil
}

// Complete reports whether every announced chunk was applied.
func (r *ReceivedSnapshot) Complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks) > 0 && int32(len(r.chunks)) == r.totalCount
}

// Persist verifies that all chunks arrived and that their combined checksum
// matches the one announced by the sender, then moves the snapshot into the store.
// A checksum mismatch aborts the snapshot, it has to be transferred again.
func (r *ReceivedSnapshot) Persist() (*PersistedSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.state.check(); err != nil {
		return nil, err
	}
	if len(r.chunks) == 0 || int32(len(r.chunks)) != r.totalCount {
		return nil, fmt.Errorf("%w: received %d of %d", ErrIncomplete, len(r.chunks), r.totalCount)
	}

	sfv, err := ChecksumDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to compute checksums of snapshot %s: %w", r.id, err)
	}
	if combined := sfv.CombinedValue(); combined != r.snapshotChecksum {
		r.state = stateAborted
		return nil, errors.Join(
			fmt.Errorf("%w: snapshot %s combined checksum %08x, expected %08x",
				api.ErrCorruptedSnapshot, r.id, combined, r.snapshotChecksum),
			os.RemoveAll(r.dir),
		)
	}

	p, err := r.store.persist(r.id, r.dir, sfv, originReceived)
	if err == nil || errors.Is(err, api.ErrSnapshotAlreadyExists) {
		r.state = statePersisted
	}
	return p, err
}

func (r *ReceivedSnapshot) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == statePersisted {
		return ErrAlreadyPersisted
	}
	r.state = stateAborted
	return os.RemoveAll(r.dir)
}
