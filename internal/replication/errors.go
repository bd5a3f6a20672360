package replication

import (
	"errors"
	"fmt"

	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/pkg/protocol"
)

// ErrRoundsExhausted is returned when a session hits the configured maximum
// number of round trips before reaching its target position.
var ErrRoundsExhausted = errors.New("replication: maximum rounds exhausted")

// InvalidResponseError is returned when a member answered with a response
// outside of the protocol contract. It ends the session, not the replicator.
type InvalidResponseError struct {
	Server   api.MemberID
	Request  protocol.LogReplicationRequest
	Response protocol.LogReplicationResponse
	Reason   string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("replication: invalid response from %s for %s: %s (to position %d, %d bytes, more available %t)",
		e.Server, e.Request.String(), e.Reason, e.Response.ToPosition, len(e.Response.SerializedEvents), e.Response.MoreAvailable)
}

// FailedAppendError is returned when the local log rejected a replicated block.
type FailedAppendError struct {
	Server api.MemberID
	// From and To are the bounds of the session.
	From int64
	To   int64
	// CommitPosition is the last position of the rejected block.
	CommitPosition int64
	Result         int64
}

func (e *FailedAppendError) Error() string {
	return fmt.Sprintf("replication: failed to append block up to %d replicated from %s in (%d, %d], append returned %d",
		e.CommitPosition, e.Server, e.From, e.To, e.Result)
}
