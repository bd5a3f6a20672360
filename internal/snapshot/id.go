package snapshot

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// ID identifies a snapshot. IDs are ordered by term, then index, then
// processed position, then exported position.
type ID struct {
	Index             int64
	Term              int64
	ProcessedPosition int64
	ExportedPosition  int64
}

// String returns the directory name of the snapshot: index-term-processed-exported.
func (id ID) String() string {
	return fmt.Sprintf("%d-%d-%d-%d", id.Index, id.Term, id.ProcessedPosition, id.ExportedPosition)
}

// Compare returns -1, 0 or +1 depending on whether id orders before, equal
// to or after other.
func (id ID) Compare(other ID) int {
	if c := cmp.Compare(id.Term, other.Term); c != 0 {
		return c
	}
	if c := cmp.Compare(id.Index, other.Index); c != 0 {
		return c
	}
	if c := cmp.Compare(id.ProcessedPosition, other.ProcessedPosition); c != 0 {
		return c
	}
	return cmp.Compare(id.ExportedPosition, other.ExportedPosition)
}

// CompactionBound is the highest position the log may be compacted up to
// once this snapshot is durable.
func (id ID) CompactionBound() int64 {
	return min(id.ProcessedPosition, id.ExportedPosition)
}

// ParseID parses the output of ID.String.
func ParseID(s string) (ID, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 4 {
		return ID{}, fmt.Errorf("invalid snapshot id %q: expected 4 fields, got %d", s, len(parts))
	}

	var fields [4]int64
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil || v < 0 {
			return ID{}, fmt.Errorf("invalid snapshot id %q: field %d is not a non-negative number", s, i+1)
		}
		fields[i] = v
	}
	return ID{
		Index:             fields[0],
		Term:              fields[1],
		ProcessedPosition: fields[2],
		ExportedPosition:  fields[3],
	}, nil
}
