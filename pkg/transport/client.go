// Package transport carries log replication and snapshot chunks between
// members over gRPC.
package transport

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/internal/cbreaker"
	"github.com/shrtyk/logstream-core/pkg/protocol"
	"google.golang.org/grpc"
)

var _ api.Transport = (*GRPCClient)(nil)

type member struct {
	conn grpc.ClientConnInterface
	cb   *cbreaker.CircuitBreaker
}

// GRPCClient calls remote members. Every member has its own circuit breaker,
// so a dead member fails fast instead of eating the request timeout.
type GRPCClient struct {
	requestTimeout time.Duration
	members        map[api.MemberID]*member
	ids            []api.MemberID
	closeFn        func() error
}

// NewGRPCClient creates a client over conns. closeFn, if not nil, is called by Close.
func NewGRPCClient(
	cfg *api.Config,
	conns map[api.MemberID]grpc.ClientConnInterface,
	closeFn func() error,
) *GRPCClient {
	c := &GRPCClient{
		requestTimeout: cfg.Timings.RPCTimeout,
		members:        make(map[api.MemberID]*member, len(conns)),
		closeFn:        closeFn,
	}
	for id, conn := range conns {
		c.members[id] = &member{conn: conn, cb: cbreaker.NewCircuitBreaker(cfg.CBreaker)}
		c.ids = append(c.ids, id)
	}
	slices.Sort(c.ids)
	return c
}

// Dial connects to every member of cfg.
func Dial(cfg *api.Config, opts ...grpc.DialOption) (*GRPCClient, error) {
	conns, closeFn, err := SetupConnections(cfg.Members, opts...)
	if err != nil {
		return nil, err
	}
	ifaces := make(map[api.MemberID]grpc.ClientConnInterface, len(conns))
	for id, conn := range conns {
		ifaces[id] = conn
	}
	return NewGRPCClient(cfg, ifaces, closeFn), nil
}

func (c *GRPCClient) Replicate(
	ctx context.Context,
	to api.MemberID,
	req *protocol.LogReplicationRequest,
) (*protocol.LogReplicationResponse, error) {
	m, err := c.member(to)
	if err != nil {
		return nil, err
	}
	return cbreaker.Do(ctx, m.cb, func(ctx context.Context) (*protocol.LogReplicationResponse, error) {
		tctx, tcancel := c.withTimeout(ctx)
		defer tcancel()
		resp := new(protocol.LogReplicationResponse)
		if err := m.conn.Invoke(tctx, replicateMethod, req, resp, grpc.CallContentSubtype(CodecName)); err != nil {
			return nil, fromStatus(err)
		}
		return resp, nil
	})
}

func (c *GRPCClient) SendSnapshotChunk(
	ctx context.Context,
	to api.MemberID,
	chunk *protocol.SnapshotChunk,
) (*protocol.SnapshotChunkAck, error) {
	m, err := c.member(to)
	if err != nil {
		return nil, err
	}
	return cbreaker.Do(ctx, m.cb, func(ctx context.Context) (*protocol.SnapshotChunkAck, error) {
		tctx, tcancel := c.withTimeout(ctx)
		defer tcancel()
		ack := new(protocol.SnapshotChunkAck)
		if err := m.conn.Invoke(tctx, sendSnapshotChunkMethod, chunk, ack, grpc.CallContentSubtype(CodecName)); err != nil {
			return nil, fromStatus(err)
		}
		return ack, nil
	})
}

func (c *GRPCClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

func (c *GRPCClient) member(id api.MemberID) (*member, error) {
	m, ok := c.members[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", api.ErrUnknownMember, id)
	}
	return m, nil
}

func (c *GRPCClient) Members() []api.MemberID {
	return slices.Clone(c.ids)
}

func (c *GRPCClient) IsMemberAvailable(id api.MemberID) bool {
	m, ok := c.members[id]
	return ok && m.cb.IsClosed()
}

func (c *GRPCClient) Close() error {
	if c.closeFn == nil {
		return nil
	}
	return c.closeFn()
}
