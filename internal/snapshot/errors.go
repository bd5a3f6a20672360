package snapshot

import (
	"errors"
	"fmt"
)

var (
	ErrNotTaken         = errors.New("snapshot: not taken yet")
	ErrAlreadyPersisted = errors.New("snapshot: already persisted")
	ErrAborted          = errors.New("snapshot: aborted")
	ErrIncomplete       = errors.New("snapshot: missing chunks")
	// ErrEmpty is returned for a snapshot without files, it could not be sent to other members.
	ErrEmpty = errors.New("snapshot: no files")
)

// WriteError is returned when a received chunk could not be applied.
// It wraps api.ErrCorruptedSnapshot when the chunk failed validation.
type WriteError struct {
	SnapshotID string
	Chunk      string
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("snapshot %s: failed to write chunk %q: %v", e.SnapshotID, e.Chunk, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
