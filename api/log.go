package api

import "github.com/shrtyk/logstream-core/pkg/protocol"

// LogAppender is the append collaborator used by log replication.
type LogAppender interface {
	// Append writes a serialized block of entries and records commitPosition
	// as committed. It returns the highest written position on success and a
	// value <= 0 when the block was rejected (e.g. it does not continue the log).
	Append(commitPosition int64, block []byte) int64
}

// LogReader gives ordered read access to a partition log.
type LogReader interface {
	// Scan calls fn for every entry with position >= from, in ascending
	// position order, until fn returns false.
	Scan(from int64, fn func(e protocol.Entry) bool) error

	// LastPosition returns the highest written position or -1 for an empty log.
	LastPosition() int64
}

// LogStorage combines the append and read sides of a partition log.
type LogStorage interface {
	LogAppender
	LogReader

	// CommitPosition returns the highest position known to be committed.
	CommitPosition() int64

	// Close releases any underlying resources, like file handles.
	Close() error
}
