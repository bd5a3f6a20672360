package api

import (
	"context"

	"github.com/shrtyk/logstream-core/pkg/protocol"
)

// MemberID identifies a cluster member.
type MemberID string

// ReplicationClient sends log replication requests to remote members.
type ReplicationClient interface {
	Replicate(
		ctx context.Context, member MemberID, req *protocol.LogReplicationRequest) (*protocol.LogReplicationResponse, error)
}

// SnapshotChunkClient sends snapshot chunks to remote members.
type SnapshotChunkClient interface {
	SendSnapshotChunk(
		ctx context.Context, member MemberID, chunk *protocol.SnapshotChunk) (*protocol.SnapshotChunkAck, error)
}

// Transport is the full client side used by a broker.
type Transport interface {
	ReplicationClient
	SnapshotChunkClient

	// Members returns ids of all known remote members.
	Members() []MemberID

	// IsMemberAvailable returns true if member currently available to be called and false otherwise.
	IsMemberAvailable(member MemberID) bool

	Close() error
}

// ReplicationHandler serves log replication requests of other members.
type ReplicationHandler interface {
	OnReplicationRequest(
		ctx context.Context, req *protocol.LogReplicationRequest) (*protocol.LogReplicationResponse, error)
}

// SnapshotChunkHandler receives snapshot chunks sent by other members.
type SnapshotChunkHandler interface {
	OnSnapshotChunk(ctx context.Context, chunk *protocol.SnapshotChunk) (*protocol.SnapshotChunkAck, error)
}

// ReplicationServerTransport is the server side of the transport for log replication.
type ReplicationServerTransport interface {
	// ServeReplication routes incoming replication requests to h until Close.
	ServeReplication(h ReplicationHandler) error
}
