package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/pkg/protocol"
)

// PersistedSnapshot is an immutable snapshot owned by the store.
type PersistedSnapshot struct {
	store        *Store
	id           ID
	path         string
	checksumPath string
	checksums    *ChecksumsSFV
}

func (p *PersistedSnapshot) ID() ID { return p.id }

func (p *PersistedSnapshot) Path() string { return p.path }

// ChecksumPath is the location of the SFV file.
func (p *PersistedSnapshot) ChecksumPath() string { return p.checksumPath }

// Checksum is the combined checksum of all snapshot files.
func (p *PersistedSnapshot) Checksum() uint32 { return p.checksums.CombinedValue() }

func (p *PersistedSnapshot) Checksums() ImmutableChecksumsSFV { return p.checksums }

func (p *PersistedSnapshot) CompactionBound() int64 { return p.id.CompactionBound() }

// Verify recomputes checksums from disk and compares them to the SFV file.
func (p *PersistedSnapshot) Verify() error {
	actual, err := ChecksumDir(p.path)
	if err != nil {
		return err
	}
	if !actual.SameChecksums(p.checksums) || actual.CombinedValue() != p.checksums.CombinedValue() {
		return fmt.Errorf("%w: snapshot %s", api.ErrCorruptedSnapshot, p.id)
	}
	return nil
}

// Delete removes the snapshot from the store and disk.
func (p *PersistedSnapshot) Delete() error {
	return p.store.delete(p)
}

// ChunkReader returns a reader producing one chunk per snapshot file.
func (p *PersistedSnapshot) ChunkReader() (*ChunkReader, error) {
	files, err := listFiles(p.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", api.ErrSnapshotNotFound, err)
	}
	return &ChunkReader{snapshot: p, files: files}, nil
}

// ChunkReader iterates over the files of a persisted snapshot in name order.
type ChunkReader struct {
	snapshot *PersistedSnapshot
	files    []string
	next     int
}

// Next returns the next chunk or io.EOF once all chunks were read.
func (r *ChunkReader) Next() (*protocol.SnapshotChunk, error) {
	if r.next >= len(r.files) {
		return nil, io.EOF
	}
	name := r.files[r.next]
	content, err := os.ReadFile(filepath.Join(r.snapshot.path, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %s: %w", name, err)
	}
	r.next++

	return &protocol.SnapshotChunk{
		SnapshotID:       r.snapshot.id.String(),
		TotalCount:       int32(len(r.files)),
		ChunkName:        name,
		Checksum:         Checksum(content),
		SnapshotChecksum: r.snapshot.Checksum(),
		Content:          content,
	}, nil
}

// Reset rewinds the reader to the first chunk.
func (r *ChunkReader) Reset() {
	r.next = 0
}

func (r *ChunkReader) Len() int {
	return len(r.files)
}
