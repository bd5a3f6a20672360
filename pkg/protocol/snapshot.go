package protocol

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// SnapshotChunk is one file of a persisted snapshot on its way to another member.
type SnapshotChunk struct {
	SnapshotID string
	// TotalCount is the number of chunks the snapshot consists of.
	TotalCount int32
	ChunkName  string
	// Checksum is the CRC32C of Content.
	Checksum uint32
	// SnapshotChecksum is the combined checksum of the whole snapshot.
	SnapshotChecksum uint32
	Content          []byte
}

func (c *SnapshotChunk) Marshal() ([]byte, error) {
	var b []byte
	b = appendBytesField(b, 1, []byte(c.SnapshotID))
	b = appendVarintField(b, 2, uint64(c.TotalCount))
	b = appendBytesField(b, 3, []byte(c.ChunkName))
	b = appendFixed32Field(b, 4, c.Checksum)
	b = appendFixed32Field(b, 5, c.SnapshotChecksum)
	b = appendBytesField(b, 6, c.Content)
	return b, nil
}

func (c *SnapshotChunk) Unmarshal(b []byte) error {
	*c = SnapshotChunk{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var (
			v   uint64
			raw []byte
		)
		switch num {
		case 1:
			n, err := consumeBytes(typ, b, &raw)
			c.SnapshotID = string(raw)
			return n, err
		case 2:
			n, err := consumeVarint(typ, b, &v)
			c.TotalCount = int32(v)
			return n, err
		case 3:
			n, err := consumeBytes(typ, b, &raw)
			c.ChunkName = string(raw)
			return n, err
		case 4:
			return consumeFixed32(typ, b, &c.Checksum)
		case 5:
			return consumeFixed32(typ, b, &c.SnapshotChecksum)
		case 6:
			return consumeBytes(typ, b, &c.Content)
		}
		return -1, nil
	})
}

// SnapshotChunkAck acknowledges an applied chunk. Persisted is set once the
// receiver turned the last chunk into a persisted snapshot.
type SnapshotChunkAck struct {
	Applied   bool
	Persisted bool
}

func (a *SnapshotChunkAck) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarintField(b, 1, protowire.EncodeBool(a.Applied))
	b = appendVarintField(b, 2, protowire.EncodeBool(a.Persisted))
	return b, nil
}

func (a *SnapshotChunkAck) Unmarshal(b []byte) error {
	*a = SnapshotChunkAck{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var v uint64
		switch num {
		case 1:
			n, err := consumeVarint(typ, b, &v)
			a.Applied = protowire.DecodeBool(v)
			return n, err
		case 2:
			n, err := consumeVarint(typ, b, &v)
			a.Persisted = protowire.DecodeBool(v)
			return n, err
		}
		return -1, nil
	})
}
