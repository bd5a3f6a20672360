package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// LogReplicationRequest asks a member for entries in (FromPosition, ToPosition].
// When IncludeFromPosition is set the range becomes [FromPosition, ToPosition].
type LogReplicationRequest struct {
	FromPosition        int64
	ToPosition          int64
	IncludeFromPosition bool
}

func (r *LogReplicationRequest) String() string {
	open := "("
	if r.IncludeFromPosition {
		open = "["
	}
	return fmt.Sprintf("%s%d, %d]", open, r.FromPosition, r.ToPosition)
}

func (r *LogReplicationRequest) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarintField(b, 1, uint64(r.FromPosition))
	b = appendVarintField(b, 2, uint64(r.ToPosition))
	b = appendVarintField(b, 3, protowire.EncodeBool(r.IncludeFromPosition))
	return b, nil
}

func (r *LogReplicationRequest) Unmarshal(b []byte) error {
	*r = LogReplicationRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var v uint64
		switch num {
		case 1:
			n, err := consumeVarint(typ, b, &v)
			r.FromPosition = int64(v)
			return n, err
		case 2:
			n, err := consumeVarint(typ, b, &v)
			r.ToPosition = int64(v)
			return n, err
		case 3:
			n, err := consumeVarint(typ, b, &v)
			r.IncludeFromPosition = protowire.DecodeBool(v)
			return n, err
		}
		return -1, nil
	})
}

// LogReplicationResponse carries a block of serialized entries ending at ToPosition.
type LogReplicationResponse struct {
	ToPosition       int64
	MoreAvailable    bool
	SerializedEvents []byte
}

// IsValid reports whether the response can be appended: it must name a
// positive last position and carry at least one serialized entry.
func (r *LogReplicationResponse) IsValid() bool {
	return r != nil && r.ToPosition > 0 && len(r.SerializedEvents) > 0
}

func (r *LogReplicationResponse) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarintField(b, 1, uint64(r.ToPosition))
	b = appendVarintField(b, 2, protowire.EncodeBool(r.MoreAvailable))
	b = appendBytesField(b, 3, r.SerializedEvents)
	return b, nil
}

func (r *LogReplicationResponse) Unmarshal(b []byte) error {
	*r = LogReplicationResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var v uint64
		switch num {
		case 1:
			n, err := consumeVarint(typ, b, &v)
			r.ToPosition = int64(v)
			return n, err
		case 2:
			n, err := consumeVarint(typ, b, &v)
			r.MoreAvailable = protowire.DecodeBool(v)
			return n, err
		case 3:
			return consumeBytes(typ, b, &r.SerializedEvents)
		}
		return -1, nil
	})
}
