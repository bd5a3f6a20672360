package transport

import (
	"context"

	"github.com/shrtyk/logstream-core/pkg/protocol"
	"google.golang.org/grpc"
)

const (
	serviceName             = "logstream.v1.LogReplication"
	replicateMethod         = "/" + serviceName + "/Replicate"
	sendSnapshotChunkMethod = "/" + serviceName + "/SendSnapshotChunk"
)

// LogReplicationService is the server side of the gRPC service.
type LogReplicationService interface {
	Replicate(ctx context.Context, req *protocol.LogReplicationRequest) (*protocol.LogReplicationResponse, error)
	SendSnapshotChunk(ctx context.Context, chunk *protocol.SnapshotChunk) (*protocol.SnapshotChunkAck, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LogReplicationService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Replicate", Handler: replicateHandler},
		{MethodName: "SendSnapshotChunk", Handler: sendSnapshotChunkHandler},
	},
	Metadata: "logstream/v1/replication",
}

// RegisterLogReplicationService registers srv on s.
func RegisterLogReplicationService(s grpc.ServiceRegistrar, srv LogReplicationService) {
	s.RegisterService(&serviceDesc, srv)
}

func replicateHandler(
	srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(protocol.LogReplicationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LogReplicationService).Replicate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: replicateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LogReplicationService).Replicate(ctx, req.(*protocol.LogReplicationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func sendSnapshotChunkHandler(
	srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(protocol.SnapshotChunk)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LogReplicationService).SendSnapshotChunk(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: sendSnapshotChunkMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LogReplicationService).SendSnapshotChunk(ctx, req.(*protocol.SnapshotChunk))
	}
	return interceptor(ctx, in, info, handler)
}
