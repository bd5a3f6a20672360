package api

import "errors"

var (
	// ErrWriteRejected is returned by the write path when admission control
	// sheds the command. It is a normal operating condition: retry later.
	ErrWriteRejected = errors.New("logstream: write rejected by backpressure")

	ErrSnapshotNotFound      = errors.New("snapshot: not found")
	ErrSnapshotAlreadyExists = errors.New("snapshot: already exists")
	ErrStateClosed           = errors.New("snapshot: store is closed")
	// ErrCorruptedSnapshot marks a checksum mismatch. The snapshot must be
	// taken or transferred again from scratch, retrying the same bytes is useless.
	ErrCorruptedSnapshot = errors.New("snapshot: checksum mismatch")

	ErrBrokerStopped = errors.New("logstream: broker is stopped")
	ErrUnknownMember = errors.New("logstream: unknown member")
)
