package replication

import (
	"context"
	"fmt"

	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/pkg/protocol"
)

const defaultMaxBytesPerResponse = 4 << 20

var _ api.ReplicationHandler = (*LogReaderHandler)(nil)

// LogReaderHandler serves replication requests from a local log.
//
// The entry at the request's from position must exist, otherwise the
// response is invalid. Entries are returned in log order until the requested
// upper bound or until maxBytes would be exceeded; a single entry larger than
// maxBytes is still sent on its own.
type LogReaderHandler struct {
	reader   api.LogReader
	maxBytes int
}

func NewLogReaderHandler(reader api.LogReader, maxBytes int) *LogReaderHandler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytesPerResponse
	}
	return &LogReaderHandler{reader: reader, maxBytes: maxBytes}
}

func (h *LogReaderHandler) OnReplicationRequest(
	ctx context.Context, req *protocol.LogReplicationRequest,
) (*protocol.LogReplicationResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp := &protocol.LogReplicationResponse{}
	if req.ToPosition < req.FromPosition {
		return resp, nil
	}

	var (
		block   []byte
		started bool
		found   bool
	)
	err := h.reader.Scan(req.FromPosition, func(e protocol.Entry) bool {
		if !started {
			started = true
			found = e.Position == req.FromPosition
			if !found || !req.IncludeFromPosition {
				return found
			}
		}

		if e.Position > req.ToPosition {
			return false
		}
		if len(block) > 0 && len(block)+e.Size() > h.maxBytes {
			resp.MoreAvailable = true
			return false
		}
		block = protocol.AppendEntry(block, e)
		resp.ToPosition = e.Position
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read log from %d: %w", req.FromPosition, err)
	}
	if !found {
		return &protocol.LogReplicationResponse{}, nil
	}

	resp.SerializedEvents = block
	return resp, nil
}
