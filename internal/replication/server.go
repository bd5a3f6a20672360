package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/pkg/protocol"
)

var ErrServerClosed = errors.New("replication: server closed")

// HandlerFunc adapts a function to api.ReplicationHandler.
type HandlerFunc func(ctx context.Context, req *protocol.LogReplicationRequest) (*protocol.LogReplicationResponse, error)

func (f HandlerFunc) OnReplicationRequest(
	ctx context.Context, req *protocol.LogReplicationRequest,
) (*protocol.LogReplicationResponse, error) {
	return f(ctx, req)
}

// LogReplicationServer answers replication requests of other members through
// a server transport. Requests arriving after Close get ErrServerClosed.
type LogReplicationServer struct {
	mu        sync.RWMutex
	transport api.ReplicationServerTransport
	handler   api.ReplicationHandler
	logger    *slog.Logger
	closed    bool
}

func NewLogReplicationServer(transport api.ReplicationServerTransport, log *slog.Logger) *LogReplicationServer {
	return &LogReplicationServer{
		transport: transport,
		logger:    log.With("component", "log-replication-server"),
	}
}

// Serve starts routing requests to h. Calling it again replaces the handler.
func (s *LogReplicationServer) Serve(h api.ReplicationHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	first := s.handler == nil
	s.handler = h
	if !first {
		return nil
	}
	if err := s.transport.ServeReplication(HandlerFunc(s.onRequest)); err != nil {
		s.handler = nil
		return fmt.Errorf("failed to register replication handler: %w", err)
	}
	return nil
}

func (s *LogReplicationServer) onRequest(
	ctx context.Context, req *protocol.LogReplicationRequest,
) (*protocol.LogReplicationResponse, error) {
	s.mu.RLock()
	h, closed := s.handler, s.closed
	s.mu.RUnlock()

	if closed || h == nil {
		return nil, ErrServerClosed
	}
	s.logger.Debug("received replication request", slog.String("range", req.String()))
	return h.OnReplicationRequest(ctx, req)
}

func (s *LogReplicationServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.handler = nil
	return nil
}
