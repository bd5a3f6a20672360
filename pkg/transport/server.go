package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/pkg/logger"
	"github.com/shrtyk/logstream-core/pkg/protocol"
	"google.golang.org/grpc"
)

var (
	_ api.ReplicationServerTransport = (*GRPCServer)(nil)
	_ LogReplicationService          = (*GRPCServer)(nil)
)

// GRPCServer receives replication requests and snapshot chunks from other
// members and routes them to the registered handlers.
type GRPCServer struct {
	addr   string
	server *grpc.Server
	logger *slog.Logger
	wg     sync.WaitGroup

	mu          sync.RWMutex
	replication api.ReplicationHandler
	snapshots   api.SnapshotChunkHandler
	listener    net.Listener
}

func NewGRPCServer(addr string, log *slog.Logger, opts ...grpc.ServerOption) *GRPCServer {
	s := &GRPCServer{
		addr:   addr,
		server: grpc.NewServer(opts...),
		logger: log.With("component", "grpc-server"),
	}
	RegisterLogReplicationService(s.server, s)
	return s
}

func (s *GRPCServer) ServeReplication(h api.ReplicationHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replication = h
	return nil
}

func (s *GRPCServer) ServeSnapshots(h api.SnapshotChunkHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = h
	return nil
}

// Start listens on the configured address and serves in the background.
func (s *GRPCServer) Start() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.Serve(l)
	return nil
}

// Serve serves on l in the background.
func (s *GRPCServer) Serve(l net.Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.logger.Info("serving", slog.String("addr", l.Addr().String()))
	s.wg.Go(func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("gRPC server failed", logger.ErrAttr(err))
		}
	})
}

// Addr returns the address the server listens on, once started.
func (s *GRPCServer) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the gRPC server.
func (s *GRPCServer) Stop() error {
	s.server.GracefulStop()
	s.wg.Wait()
	return nil
}

func (s *GRPCServer) Replicate(
	ctx context.Context, req *protocol.LogReplicationRequest,
) (*protocol.LogReplicationResponse, error) {
	s.mu.RLock()
	h := s.replication
	s.mu.RUnlock()
	if h == nil {
		return nil, toStatus(ErrNoHandler)
	}

	resp, err := h.OnReplicationRequest(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	if resp == nil {
		resp = &protocol.LogReplicationResponse{}
	}
	return resp, nil
}

func (s *GRPCServer) SendSnapshotChunk(
	ctx context.Context, chunk *protocol.SnapshotChunk,
) (*protocol.SnapshotChunkAck, error) {
	s.mu.RLock()
	h := s.snapshots
	s.mu.RUnlock()
	if h == nil {
		return nil, toStatus(ErrNoHandler)
	}

	ack, err := h.OnSnapshotChunk(ctx, chunk)
	if err != nil {
		s.logger.Warn("failed to apply snapshot chunk",
			slog.String("snapshot", chunk.SnapshotID),
			slog.String("chunk", chunk.ChunkName),
			logger.ErrAttr(err))
		return nil, toStatus(err)
	}
	if ack == nil {
		ack = &protocol.SnapshotChunkAck{}
	}
	return ack, nil
}
