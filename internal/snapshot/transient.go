package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/shrtyk/logstream-core/api"
)

type pendingState int

const (
	statePending pendingState = iota
	stateTaken
	statePersisted
	stateAborted
)

func (s pendingState) check() error {
	switch s {
	case statePersisted:
		return ErrAlreadyPersisted
	case stateAborted:
		return ErrAborted
	}
	return nil
}

// TransientSnapshot is a snapshot being written locally. It is owned by the
// goroutine taking it until Persist or Abort.
type TransientSnapshot struct {
	mu      sync.Mutex
	store   *Store
	id      ID
	dir     string
	state   pendingState
	onTaken func(ok bool, err error)
}

func (t *TransientSnapshot) ID() ID { return t.id }

// Path is the working directory snapshot files are written to.
func (t *TransientSnapshot) Path() string { return t.dir }

// OnSnapshotTaken registers fn to run once Take completes, before the
// snapshot is persisted.
func (t *TransientSnapshot) OnSnapshotTaken(fn func(ok bool, err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTaken = fn
}

// Take runs write against the working directory. The snapshot can be
// persisted only after write returned nil and left at least one file.
func (t *TransientSnapshot) Take(ctx context.Context, write func(dir string) error) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	defer func() {
		if t.onTaken != nil {
			t.onTaken(err == nil, err)
		}
	}()

	if err := t.state.check(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := write(t.dir); err != nil {
		return fmt.Errorf("failed to take snapshot %s: %w", t.id, err)
	}
	files, err := listFiles(t.dir)
	if err != nil {
		return fmt.Errorf("failed to take snapshot %s: %w", t.id, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("failed to take snapshot %s: %w", t.id, ErrEmpty)
	}
	t.state = stateTaken
	return nil
}

// Persist computes the checksums of the taken files and moves them into the store.
// If the same snapshot was persisted concurrently, the existing one is returned
// together with api.ErrSnapshotAlreadyExists.
func (t *TransientSnapshot) Persist() (*PersistedSnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.state.check(); err != nil {
		return nil, err
	}
	if t.state != stateTaken {
		return nil, ErrNotTaken
	}

	sfv, err := ChecksumDir(t.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to compute checksums of snapshot %s: %w", t.id, err)
	}
	if len(sfv.Checksums()) == 0 {
		return nil, fmt.Errorf("failed to persist snapshot %s: %w", t.id, ErrEmpty)
	}
	p, err := t.store.persist(t.id, t.dir, sfv, originTaken)
	if err == nil || errors.Is(err, api.ErrSnapshotAlreadyExists) {
		t.state = statePersisted
	}
	return p, err
}

// Abort discards the working directory. It fails once the snapshot was persisted.
func (t *TransientSnapshot) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == statePersisted {
		return ErrAlreadyPersisted
	}
	t.state = stateAborted
	return os.RemoveAll(t.dir)
}
