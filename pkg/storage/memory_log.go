package storage

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/pkg/protocol"
)

const btreeDegree = 32

func entryLess(a, b protocol.Entry) bool {
	return a.Position < b.Position
}

var _ api.LogStorage = (*MemoryLog)(nil)

// MemoryLog is a position ordered in-memory log.
// It is used on its own in tests and as the read index of WALStorage.
//
// Safe for concurrent use.
type MemoryLog struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[protocol.Entry]
	commit int64
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		tree:   btree.NewG(btreeDegree, entryLess),
		commit: -1,
	}
}

// Append decodes block and stores its entries. The first entry must continue
// the log. Returns the highest position of the block or -1 if rejected.
func (m *MemoryLog) Append(commitPosition int64, block []byte) int64 {
	entries, err := protocol.DecodeBlock(block)
	if err != nil || len(entries) == 0 {
		return -1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkContinues(entries[0].Position); err != nil {
		return -1
	}
	m.insert(entries)
	m.setCommit(commitPosition)
	return entries[len(entries)-1].Position
}

// AppendEntries stores entries in order and marks them committed.
func (m *MemoryLog) AppendEntries(entries []protocol.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkContinues(entries[0].Position); err != nil {
		return err
	}
	m.insert(entries)
	m.setCommit(entries[len(entries)-1].Position)
	return nil
}

func (m *MemoryLog) checkContinues(first int64) error {
	if last, ok := m.tree.Max(); ok && first <= last.Position {
		return fmt.Errorf("%w: position %d does not continue log at %d", ErrNotContiguous, first, last.Position)
	}
	return nil
}

func (m *MemoryLog) insert(entries []protocol.Entry) {
	for _, e := range entries {
		e.Data = append([]byte(nil), e.Data...)
		m.tree.ReplaceOrInsert(e)
	}
}

func (m *MemoryLog) setCommit(pos int64) {
	if pos > m.commit {
		m.commit = pos
	}
}

// Scan holds a read lock while fn runs, fn must not write to the log.
func (m *MemoryLog) Scan(from int64, fn func(e protocol.Entry) bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.tree.AscendGreaterOrEqual(protocol.Entry{Position: from}, btree.ItemIteratorG[protocol.Entry](fn))
	return nil
}

func (m *MemoryLog) LastPosition() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if last, ok := m.tree.Max(); ok {
		return last.Position
	}
	return -1
}

func (m *MemoryLog) FirstPosition() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if first, ok := m.tree.Min(); ok {
		return first.Position
	}
	return -1
}

func (m *MemoryLog) CommitPosition() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commit
}

// Compact drops every entry with position < bound and returns how many were removed.
// The last entry is always kept so the log still knows where it ends.
func (m *MemoryLog) Compact(bound int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for m.tree.Len() > 1 {
		first, _ := m.tree.Min()
		if first.Position >= bound {
			break
		}
		m.tree.DeleteMin()
		removed++
	}
	return removed
}

func (m *MemoryLog) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Len()
}

func (m *MemoryLog) Close() error {
	return nil
}

func (m *MemoryLog) lastLocked() int64 {
	if last, ok := m.tree.Max(); ok {
		return last.Position
	}
	return -1
}
