// Package snapshot manages point in time snapshots of partition state.
//
// A snapshot is a flat directory of files plus an SFV checksum file. It is
// built in a pending directory, either locally (TransientSnapshot) or from
// chunks sent by another member (ReceivedSnapshot), and becomes an immutable
// PersistedSnapshot once its directory is atomically renamed into place.
//
// Layout under the store root:
//
//	snapshots/<id>/            persisted snapshot files
//	snapshots/<id>.checksum    SFV file of the snapshot
//	pending/<id>-<uuid>/       snapshots under construction
package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/pkg/logger"
)

const (
	snapshotsDirName  = "snapshots"
	pendingDirName    = "pending"
	checksumExtension = ".checksum"
)

// Observer receives snapshot events. metrics.SnapshotMetrics implements it.
type Observer interface {
	Persisted(origin string)
}

type nopObserver struct{}

func (nopObserver) Persisted(string) {}

const (
	originTaken    = "taken"
	originReceived = "received"
)

// Listener is notified about every snapshot that becomes the latest one.
type Listener func(s *PersistedSnapshot)

// Store owns the snapshot directories of one partition.
//
// Safe for concurrent use.
type Store struct {
	mu           sync.RWMutex
	logger       *slog.Logger
	observer     Observer
	snapshotsDir string
	pendingDir   string

	snapshots []*PersistedSnapshot // sorted by id
	listeners map[int]Listener
	nextID    int
	closed    bool
}

// NewStore opens the store rooted at dir. Pending snapshots left over by a
// previous process are removed, as are persisted snapshot directories which
// never got their checksum file.
func NewStore(dir string, log *slog.Logger, observer Observer) (*Store, error) {
	if observer == nil {
		observer = nopObserver{}
	}
	s := &Store{
		logger:       log.With("component", "snapshot-store"),
		observer:     observer,
		snapshotsDir: filepath.Join(dir, snapshotsDirName),
		pendingDir:   filepath.Join(dir, pendingDirName),
		listeners:    make(map[int]Listener),
	}
	for _, d := range []string{s.snapshotsDir, s.pendingDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory %s: %w", d, err)
		}
	}
	if err := s.PurgePending(); err != nil {
		return nil, err
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}
	return s, nil
}

func (s *Store) load() error {
	entries, err := os.ReadDir(s.snapshotsDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(s.snapshotsDir, e.Name())
		id, err := ParseID(e.Name())
		if err != nil {
			s.logger.Warn("ignoring unknown directory in snapshot store", slog.String("path", path))
			continue
		}

		sfv, err := ReadSFV(path + checksumExtension)
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("removing partially persisted snapshot", slog.String("id", id.String()))
			if err := os.RemoveAll(path); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		s.snapshots = append(s.snapshots, s.newPersisted(id, path, sfv))
	}
	s.sortSnapshots()
	return nil
}

func (s *Store) newPersisted(id ID, path string, sfv *ChecksumsSFV) *PersistedSnapshot {
	return &PersistedSnapshot{
		store:        s,
		id:           id,
		path:         path,
		checksumPath: path + checksumExtension,
		checksums:    sfv,
	}
}

func (s *Store) sortSnapshots() {
	slices.SortFunc(s.snapshots, func(a, b *PersistedSnapshot) int {
		return a.id.Compare(b.id)
	})
}

// NewTransientSnapshot starts a local snapshot. It fails with
// api.ErrSnapshotAlreadyExists if a snapshot with the same id is persisted.
func (s *Store) NewTransientSnapshot(id ID) (*TransientSnapshot, error) {
	dir, err := s.newPendingDir(id)
	if err != nil {
		return nil, err
	}
	return &TransientSnapshot{store: s, id: id, dir: dir}, nil
}

// NewReceivedSnapshot starts a snapshot fed by chunks from another member.
func (s *Store) NewReceivedSnapshot(snapshotID string) (*ReceivedSnapshot, error) {
	id, err := ParseID(snapshotID)
	if err != nil {
		return nil, err
	}
	dir, err := s.newPendingDir(id)
	if err != nil {
		return nil, err
	}
	return &ReceivedSnapshot{store: s, id: id, dir: dir, chunks: make(map[string]struct{})}, nil
}

func (s *Store) newPendingDir(id ID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", api.ErrStateClosed
	}
	if s.findLocked(id) != nil {
		return "", fmt.Errorf("%w: %s", api.ErrSnapshotAlreadyExists, id)
	}

	dir := filepath.Join(s.pendingDir, id.String()+"-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create pending snapshot directory: %w", err)
	}
	return dir, nil
}

// persist moves the pending directory into place and registers the snapshot.
// If a snapshot with the same id already exists, the pending directory is
// dropped and the existing snapshot is kept.
func (s *Store) persist(id ID, pendingDir string, sfv *ChecksumsSFV, origin string) (*PersistedSnapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, api.ErrStateClosed
	}
	if existing := s.findLocked(id); existing != nil {
		s.mu.Unlock()
		if err := os.RemoveAll(pendingDir); err != nil {
			s.logger.Warn("failed to remove pending snapshot", logger.ErrAttr(err))
		}
		return existing, fmt.Errorf("%w: %s", api.ErrSnapshotAlreadyExists, id)
	}

	path := filepath.Join(s.snapshotsDir, id.String())
	if err := s.moveIntoPlace(pendingDir, path, sfv); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	persisted := s.newPersisted(id, path, sfv)
	s.snapshots = append(s.snapshots, persisted)
	s.sortSnapshots()
	isLatest := s.snapshots[len(s.snapshots)-1] == persisted
	listeners := slices.Collect(maps.Values(s.listeners))
	s.mu.Unlock()

	s.observer.Persisted(origin)
	s.logger.Info("persisted snapshot",
		slog.String("id", id.String()),
		slog.String("origin", origin),
		slog.Bool("latest", isLatest))

	if isLatest {
		for _, l := range listeners {
			l(persisted)
		}
	}
	return persisted, nil
}

func (s *Store) moveIntoPlace(pendingDir, path string, sfv *ChecksumsSFV) error {
	if err := syncDir(pendingDir); err != nil {
		return fmt.Errorf("failed to sync pending snapshot: %w", err)
	}
	if err := os.Rename(pendingDir, path); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}

	var buf strings.Builder
	if err := sfv.Write(&buf); err != nil {
		return errors.Join(err, os.RemoveAll(path))
	}
	if err := replaceFile(path+checksumExtension, []byte(buf.String()), 0644); err != nil {
		return errors.Join(fmt.Errorf("failed to write checksum file: %w", err), os.RemoveAll(path))
	}
	if err := syncDir(s.snapshotsDir); err != nil {
		// The snapshot is in place but its directory entry may not be durable yet.
		s.logger.Warn("failed to sync snapshots directory", logger.ErrAttr(err))
	}
	return nil
}

func (s *Store) findLocked(id ID) *PersistedSnapshot {
	for _, p := range s.snapshots {
		if p.id == id {
			return p
		}
	}
	return nil
}

// LatestSnapshot returns the snapshot with the greatest id.
func (s *Store) LatestSnapshot() (*PersistedSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snapshots) == 0 {
		return nil, false
	}
	return s.snapshots[len(s.snapshots)-1], true
}

// Snapshots returns persisted snapshots in ascending id order.
func (s *Store) Snapshots() []*PersistedSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.snapshots)
}

func (s *Store) Get(id ID) (*PersistedSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, api.ErrStateClosed
	}
	if p := s.findLocked(id); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", api.ErrSnapshotNotFound, id)
}

// CompactionBound returns the compaction bound of the latest snapshot or -1.
func (s *Store) CompactionBound() int64 {
	if latest, ok := s.LatestSnapshot(); ok {
		return latest.CompactionBound()
	}
	return -1
}

// AddListener registers l and returns a function removing it.
func (s *Store) AddListener(l Listener) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) delete(p *PersistedSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return api.ErrStateClosed
	}
	idx := slices.Index(s.snapshots, p)
	if idx < 0 {
		return fmt.Errorf("%w: %s", api.ErrSnapshotNotFound, p.id)
	}
	s.snapshots = slices.Delete(s.snapshots, idx, idx+1)

	return errors.Join(
		os.Remove(p.checksumPath),
		os.RemoveAll(p.path),
	)
}

// KeepLatest deletes all but the n greatest snapshots and returns how many were deleted.
func (s *Store) KeepLatest(n int) (int, error) {
	n = max(n, 1)
	s.mu.RLock()
	var outdated []*PersistedSnapshot
	if len(s.snapshots) > n {
		outdated = slices.Clone(s.snapshots[:len(s.snapshots)-n])
	}
	s.mu.RUnlock()

	var errs error
	deleted := 0
	for _, p := range outdated {
		if err := p.Delete(); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errs
}

// PurgePending removes every snapshot under construction.
func (s *Store) PurgePending() error {
	entries, err := os.ReadDir(s.pendingDir)
	if err != nil {
		return fmt.Errorf("failed to list pending snapshots: %w", err)
	}
	var errs error
	for _, e := range entries {
		errs = errors.Join(errs, os.RemoveAll(filepath.Join(s.pendingDir, e.Name())))
	}
	return errs
}

// Close switches the store to the closed state. Snapshots under construction
// fail to persist afterwards with api.ErrStateClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	clear(s.listeners)
	return nil
}
