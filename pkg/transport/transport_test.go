package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/internal/cbreaker"
	"github.com/shrtyk/logstream-core/pkg/logger"
	"github.com/shrtyk/logstream-core/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type mockHandler struct {
	replReq   *protocol.LogReplicationRequest
	replResp  *protocol.LogReplicationResponse
	replErr   error
	chunk     *protocol.SnapshotChunk
	chunkErr  error
	replyFunc func(context.Context) error
}

func (h *mockHandler) OnReplicationRequest(
	ctx context.Context, req *protocol.LogReplicationRequest,
) (*protocol.LogReplicationResponse, error) {
	if h.replyFunc != nil {
		if err := h.replyFunc(ctx); err != nil {
			return nil, err
		}
	}
	h.replReq = req
	return h.replResp, h.replErr
}

func (h *mockHandler) OnSnapshotChunk(
	_ context.Context, chunk *protocol.SnapshotChunk,
) (*protocol.SnapshotChunkAck, error) {
	h.chunk = chunk
	if h.chunkErr != nil {
		return nil, h.chunkErr
	}
	return &protocol.SnapshotChunkAck{Applied: true}, nil
}

func testConfig(timeout time.Duration) *api.Config {
	return &api.Config{
		Timings: api.Timings{RPCTimeout: timeout},
		CBreaker: api.CircuitBreakerCfg{
			FailureThreshold: 2,
			SuccessThreshold: 1,
			ResetTimeout:     time.Minute,
		},
	}
}

// startBufServer starts a GRPCServer on an in-memory listener and returns a
// client connected to it as member "m1".
func startBufServer(t *testing.T, h *mockHandler, timeout time.Duration) (*GRPCServer, *GRPCClient) {
	t.Helper()
	_, log := logger.NewTestLogger()
	lis := bufconn.Listen(1 << 20)

	srv := NewGRPCServer("bufnet", log)
	if h != nil {
		require.NoError(t, srv.ServeReplication(h))
		require.NoError(t, srv.ServeSnapshots(h))
	}
	srv.Serve(lis)
	t.Cleanup(func() { srv.Stop() })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	client := NewGRPCClient(testConfig(timeout),
		map[api.MemberID]grpc.ClientConnInterface{"m1": conn}, conn.Close)
	t.Cleanup(func() { client.Close() })
	return srv, client
}

func TestGRPCTransport(t *testing.T) {
	ctx := context.Background()
	h := &mockHandler{}
	_, client := startBufServer(t, h, time.Second)

	assert.Equal(t, []api.MemberID{"m1"}, client.Members())
	assert.True(t, client.IsMemberAvailable("m1"))
	assert.False(t, client.IsMemberAvailable("m2"))

	t.Run("Replicate", func(t *testing.T) {
		req := &protocol.LogReplicationRequest{FromPosition: 10, ToPosition: 50}
		h.replResp = &protocol.LogReplicationResponse{
			ToPosition:       30,
			MoreAvailable:    true,
			SerializedEvents: protocol.EncodeBlock([]protocol.Entry{{Position: 11, Data: []byte("x")}}),
		}
		h.replErr = nil

		resp, err := client.Replicate(ctx, "m1", req)
		require.NoError(t, err)
		assert.True(t, cmp.Equal(h.replResp, resp))
		assert.True(t, cmp.Equal(req, h.replReq))
	})

	t.Run("nil response becomes empty", func(t *testing.T) {
		h.replResp = nil
		resp, err := client.Replicate(ctx, "m1", &protocol.LogReplicationRequest{ToPosition: 1})
		require.NoError(t, err)
		assert.False(t, resp.IsValid())
	})

	t.Run("SendSnapshotChunk", func(t *testing.T) {
		chunk := &protocol.SnapshotChunk{
			SnapshotID: "1-1-1-1",
			TotalCount: 1,
			ChunkName:  "data.bin",
			Checksum:   7,
			Content:    []byte("payload"),
		}
		ack, err := client.SendSnapshotChunk(ctx, "m1", chunk)
		require.NoError(t, err)
		assert.True(t, ack.Applied)
		assert.True(t, cmp.Equal(chunk, h.chunk))
	})

	t.Run("corruption survives the wire", func(t *testing.T) {
		h.chunkErr = api.ErrCorruptedSnapshot
		defer func() { h.chunkErr = nil }()

		_, err := client.SendSnapshotChunk(ctx, "m1", &protocol.SnapshotChunk{ChunkName: "x"})
		assert.ErrorIs(t, err, api.ErrCorruptedSnapshot)
		assert.Equal(t, codes.DataLoss, status.Code(err))
	})

	t.Run("unknown member", func(t *testing.T) {
		_, err := client.Replicate(ctx, "m2", &protocol.LogReplicationRequest{})
		assert.ErrorIs(t, err, api.ErrUnknownMember)
	})
}

func TestGRPCTransportFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("no handler", func(t *testing.T) {
		_, client := startBufServer(t, nil, time.Second)
		_, err := client.Replicate(ctx, "m1", &protocol.LogReplicationRequest{})
		assert.Equal(t, codes.Unavailable, status.Code(err))
	})

	t.Run("timeout opens the breaker", func(t *testing.T) {
		h := &mockHandler{replyFunc: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}
		_, client := startBufServer(t, h, 20*time.Millisecond)

		for range 2 {
			_, err := client.Replicate(ctx, "m1", &protocol.LogReplicationRequest{})
			require.Error(t, err)
			assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
		}
		assert.False(t, client.IsMemberAvailable("m1"))

		_, err := client.Replicate(ctx, "m1", &protocol.LogReplicationRequest{})
		assert.ErrorIs(t, err, cbreaker.ErrOpenState)
	})
}

func TestSetupConnections(t *testing.T) {
	conns, closeFunc, err := SetupConnections([]api.MemberCfg{
		{ID: "a", Addr: "localhost:1"},
		{ID: "b", Addr: "localhost:2"},
	})
	require.NoError(t, err)
	require.NotNil(t, closeFunc)
	assert.Len(t, conns, 2)
	assert.Contains(t, conns, api.MemberID("a"))
	assert.NoError(t, closeFunc())
}

func TestStatusMapping(t *testing.T) {
	testCases := []struct {
		err  error
		code codes.Code
	}{
		{api.ErrCorruptedSnapshot, codes.DataLoss},
		{api.ErrSnapshotNotFound, codes.NotFound},
		{api.ErrSnapshotAlreadyExists, codes.AlreadyExists},
		{api.ErrStateClosed, codes.Unavailable},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range testCases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.code, status.Code(toStatus(tc.err)))
		})
	}
	assert.NoError(t, toStatus(nil))
}
