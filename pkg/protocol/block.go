package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Entry is a single log record.
type Entry struct {
	Position int64
	Data     []byte
}

// Size returns the number of bytes the entry occupies inside a block.
func (e Entry) Size() int {
	return protowire.SizeVarint(uint64(e.Position)) +
		protowire.SizeBytes(len(e.Data))
}

// AppendEntry appends e to block. A block is a plain sequence of
// position(varint) | length(varint) | payload records.
func AppendEntry(block []byte, e Entry) []byte {
	block = protowire.AppendVarint(block, uint64(e.Position))
	return protowire.AppendBytes(block, e.Data)
}

// EncodeBlock serializes entries into one block.
func EncodeBlock(entries []Entry) []byte {
	size := 0
	for _, e := range entries {
		size += e.Size()
	}
	block := make([]byte, 0, size)
	for _, e := range entries {
		block = AppendEntry(block, e)
	}
	return block
}

// ScanBlock calls fn for every entry of block in order until fn returns false.
// Entry data aliases block.
func ScanBlock(block []byte, fn func(e Entry) bool) error {
	for len(block) > 0 {
		pos, n := protowire.ConsumeVarint(block)
		if n < 0 {
			return fmt.Errorf("%w: entry position: %v", ErrMalformed, protowire.ParseError(n))
		}
		block = block[n:]

		data, n := protowire.ConsumeBytes(block)
		if n < 0 {
			return fmt.Errorf("%w: entry at %d: %v", ErrMalformed, pos, protowire.ParseError(n))
		}
		block = block[n:]

		if !fn(Entry{Position: int64(pos), Data: data}) {
			return nil
		}
	}
	return nil
}

// DecodeBlock returns every entry of block. Entries must be strictly
// increasing by position.
func DecodeBlock(block []byte) ([]Entry, error) {
	var (
		entries []Entry
		last    int64 = -1
		err     error
	)
	scanErr := ScanBlock(block, func(e Entry) bool {
		if e.Position <= last {
			err = fmt.Errorf("%w: position %d after %d", ErrMalformed, e.Position, last)
			return false
		}
		last = e.Position
		entries = append(entries, e)
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}
