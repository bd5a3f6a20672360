package replication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/pkg/logger"
	"github.com/shrtyk/logstream-core/pkg/protocol"
	"github.com/shrtyk/logstream-core/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const server api.MemberID = "member-1"

// scriptedClient answers requests with the handler of the called member and
// records every request.
type scriptedClient struct {
	mu       sync.Mutex
	handlers map[api.MemberID]api.ReplicationHandler
	requests []protocol.LogReplicationRequest
}

func (c *scriptedClient) Replicate(
	ctx context.Context, member api.MemberID, req *protocol.LogReplicationRequest,
) (*protocol.LogReplicationResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, *req)
	h, ok := c.handlers[member]
	c.mu.Unlock()
	if !ok {
		return nil, api.ErrUnknownMember
	}
	return h.OnReplicationRequest(ctx, req)
}

type appenderFunc func(commitPosition int64, block []byte) int64

func (f appenderFunc) Append(commitPosition int64, block []byte) int64 {
	return f(commitPosition, block)
}

func entries(from, to int64) []protocol.Entry {
	var es []protocol.Entry
	for p := from; p <= to; p++ {
		es = append(es, protocol.Entry{Position: p, Data: []byte{byte(p)}})
	}
	return es
}

func newReplicator(t *testing.T, client api.ReplicationClient, appender api.LogAppender, cfg api.ReplicationCfg) *LogReplicator {
	t.Helper()
	_, log := logger.NewTestLogger()
	return NewLogReplicator(client, appender, cfg, log, nil)
}

func TestLogReplicatorRounds(t *testing.T) {
	// The server can only serialize up to 30 in the first round.
	responses := map[int64]*protocol.LogReplicationResponse{
		10: {ToPosition: 30, MoreAvailable: true, SerializedEvents: protocol.EncodeBlock(entries(11, 30))},
		30: {ToPosition: 50, MoreAvailable: false, SerializedEvents: protocol.EncodeBlock(entries(31, 50))},
	}
	client := &scriptedClient{handlers: map[api.MemberID]api.ReplicationHandler{
		server: HandlerFunc(func(_ context.Context, req *protocol.LogReplicationRequest) (*protocol.LogReplicationResponse, error) {
			return responses[req.FromPosition], nil
		}),
	}}

	local := storage.NewMemoryLog()
	require.Equal(t, int64(10), local.Append(10, protocol.EncodeBlock(entries(1, 10))))

	r := newReplicator(t, client, local, api.ReplicationCfg{RequestTimeout: time.Second})
	pos, err := r.Replicate(context.Background(), server, 10, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), pos)
	assert.Equal(t, int64(50), local.LastPosition())
	assert.Equal(t, int64(50), local.CommitPosition())

	want := []protocol.LogReplicationRequest{
		{FromPosition: 10, ToPosition: 50},
		{FromPosition: 30, ToPosition: 50},
	}
	if diff := cmp.Diff(want, client.requests); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestLogReplicatorFailures(t *testing.T) {
	validBlock := protocol.EncodeBlock(entries(11, 20))

	respondWith := func(resp *protocol.LogReplicationResponse, err error) *scriptedClient {
		return &scriptedClient{handlers: map[api.MemberID]api.ReplicationHandler{
			server: HandlerFunc(func(context.Context, *protocol.LogReplicationRequest) (*protocol.LogReplicationResponse, error) {
				return resp, err
			}),
		}}
	}

	t.Run("zero to position is invalid", func(t *testing.T) {
		appended := false
		appender := appenderFunc(func(int64, []byte) int64 { appended = true; return 1 })
		r := newReplicator(t, respondWith(&protocol.LogReplicationResponse{ToPosition: 0, SerializedEvents: validBlock}, nil), appender, api.ReplicationCfg{})

		_, err := r.Replicate(context.Background(), server, 10, 50)
		var invalid *InvalidResponseError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, server, invalid.Server)
		assert.False(t, appended)
	})

	t.Run("nil response is invalid", func(t *testing.T) {
		r := newReplicator(t, respondWith(nil, nil), storage.NewMemoryLog(), api.ReplicationCfg{})
		_, err := r.Replicate(context.Background(), server, 10, 50)
		var invalid *InvalidResponseError
		assert.ErrorAs(t, err, &invalid)
	})

	t.Run("response beyond requested range", func(t *testing.T) {
		resp := &protocol.LogReplicationResponse{ToPosition: 60, SerializedEvents: validBlock}
		r := newReplicator(t, respondWith(resp, nil), storage.NewMemoryLog(), api.ReplicationCfg{})
		_, err := r.Replicate(context.Background(), server, 10, 50)
		var invalid *InvalidResponseError
		assert.ErrorAs(t, err, &invalid)
	})

	t.Run("response without progress", func(t *testing.T) {
		resp := &protocol.LogReplicationResponse{ToPosition: 10, MoreAvailable: true, SerializedEvents: validBlock}
		r := newReplicator(t, respondWith(resp, nil), storage.NewMemoryLog(), api.ReplicationCfg{})
		_, err := r.Replicate(context.Background(), server, 10, 50)
		var invalid *InvalidResponseError
		assert.ErrorAs(t, err, &invalid)
	})

	t.Run("failed append carries session", func(t *testing.T) {
		resp := &protocol.LogReplicationResponse{ToPosition: 20, MoreAvailable: true, SerializedEvents: validBlock}
		appender := appenderFunc(func(int64, []byte) int64 { return -1 })
		r := newReplicator(t, respondWith(resp, nil), appender, api.ReplicationCfg{})

		pos, err := r.Replicate(context.Background(), server, 10, 50)
		var failed *FailedAppendError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, FailedAppendError{Server: server, From: 10, To: 50, CommitPosition: 20, Result: -1}, *failed)
		assert.Equal(t, int64(10), pos)
	})

	t.Run("transport error is not retried", func(t *testing.T) {
		boom := errors.New("connection reset")
		client := respondWith(nil, boom)
		r := newReplicator(t, client, storage.NewMemoryLog(), api.ReplicationCfg{})

		_, err := r.Replicate(context.Background(), server, 10, 50)
		assert.ErrorIs(t, err, boom)
		assert.Len(t, client.requests, 1)
	})

	t.Run("including session without progress reports position before from", func(t *testing.T) {
		client := respondWith(nil, errors.New("connection reset"))
		r := newReplicator(t, client, storage.NewMemoryLog(), api.ReplicationCfg{})

		pos, err := r.ReplicateIncluding(context.Background(), server, 1, 50)
		assert.Error(t, err)
		assert.Equal(t, int64(0), pos)
		require.Len(t, client.requests, 1)
		assert.True(t, client.requests[0].IncludeFromPosition)
	})

	t.Run("unknown member", func(t *testing.T) {
		r := newReplicator(t, &scriptedClient{}, storage.NewMemoryLog(), api.ReplicationCfg{})
		_, err := r.Replicate(context.Background(), "nobody", 10, 50)
		assert.ErrorIs(t, err, api.ErrUnknownMember)
	})
}

func TestLogReplicatorAgainstLogReader(t *testing.T) {
	remote := storage.NewMemoryLog()
	require.Equal(t, int64(100), remote.Append(100, protocol.EncodeBlock(entries(1, 100))))

	entrySize := protocol.Entry{Position: 50, Data: []byte{50}}.Size()
	handler := NewLogReaderHandler(remote, 10*entrySize)
	client := &scriptedClient{handlers: map[api.MemberID]api.ReplicationHandler{server: handler}}

	t.Run("full range in several rounds", func(t *testing.T) {
		local := storage.NewMemoryLog()
		r := newReplicator(t, client, local, api.ReplicationCfg{})

		pos, err := r.ReplicateIncluding(context.Background(), server, 1, 75)
		require.NoError(t, err)
		assert.Equal(t, int64(75), pos)
		assert.Equal(t, int64(1), local.FirstPosition())
		assert.Equal(t, int64(75), local.LastPosition())
		assert.Equal(t, 75, local.Len())
	})

	t.Run("max rounds", func(t *testing.T) {
		local := storage.NewMemoryLog()
		require.Equal(t, int64(1), local.Append(1, protocol.EncodeBlock(entries(1, 1))))
		r := newReplicator(t, client, local, api.ReplicationCfg{MaxRounds: 2})

		pos, err := r.Replicate(context.Background(), server, 1, 100)
		assert.ErrorIs(t, err, ErrRoundsExhausted)
		assert.Equal(t, int64(21), pos)
		assert.Equal(t, int64(21), local.LastPosition())
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		r := newReplicator(t, client, storage.NewMemoryLog(), api.ReplicationCfg{})
		_, err := r.Replicate(ctx, server, 1, 100)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLogReaderHandler(t *testing.T) {
	log := storage.NewMemoryLog()
	require.Equal(t, int64(20), log.Append(20, protocol.EncodeBlock(entries(10, 20))))
	entrySize := protocol.Entry{Position: 15, Data: []byte{15}}.Size()

	positions := func(t *testing.T, resp *protocol.LogReplicationResponse) []int64 {
		t.Helper()
		es, err := protocol.DecodeBlock(resp.SerializedEvents)
		require.NoError(t, err)
		var ps []int64
		for _, e := range es {
			ps = append(ps, e.Position)
		}
		return ps
	}

	tests := []struct {
		name      string
		maxBytes  int
		req       protocol.LogReplicationRequest
		valid     bool
		positions []int64
		more      bool
	}{
		{
			name:      "exclusive from",
			req:       protocol.LogReplicationRequest{FromPosition: 12, ToPosition: 15},
			valid:     true,
			positions: []int64{13, 14, 15},
		},
		{
			name:      "inclusive from",
			req:       protocol.LogReplicationRequest{FromPosition: 12, ToPosition: 13, IncludeFromPosition: true},
			valid:     true,
			positions: []int64{12, 13},
		},
		{
			name: "missing start entry",
			req:  protocol.LogReplicationRequest{FromPosition: 5, ToPosition: 15},
		},
		{
			name: "start beyond log",
			req:  protocol.LogReplicationRequest{FromPosition: 25, ToPosition: 30},
		},
		{
			name: "nothing after start",
			req:  protocol.LogReplicationRequest{FromPosition: 20, ToPosition: 30},
		},
		{
			name: "inverted range",
			req:  protocol.LogReplicationRequest{FromPosition: 15, ToPosition: 12},
		},
		{
			name:      "byte cap sets more available",
			maxBytes:  3 * entrySize,
			req:       protocol.LogReplicationRequest{FromPosition: 10, ToPosition: 20},
			valid:     true,
			positions: []int64{11, 12, 13},
			more:      true,
		},
		{
			name:      "byte cap at range end",
			maxBytes:  3 * entrySize,
			req:       protocol.LogReplicationRequest{FromPosition: 10, ToPosition: 13},
			valid:     true,
			positions: []int64{11, 12, 13},
		},
		{
			name:      "oversized entry is sent alone",
			maxBytes:  1,
			req:       protocol.LogReplicationRequest{FromPosition: 10, ToPosition: 20},
			valid:     true,
			positions: []int64{11},
			more:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewLogReaderHandler(log, tt.maxBytes)
			resp, err := h.OnReplicationRequest(context.Background(), &tt.req)
			require.NoError(t, err)
			require.Equal(t, tt.valid, resp.IsValid())
			if !tt.valid {
				return
			}
			assert.Equal(t, tt.positions, positions(t, resp))
			assert.Equal(t, tt.positions[len(tt.positions)-1], resp.ToPosition)
			assert.Equal(t, tt.more, resp.MoreAvailable)
		})
	}
}

type fakeServerTransport struct {
	handler api.ReplicationHandler
}

func (f *fakeServerTransport) ServeReplication(h api.ReplicationHandler) error {
	f.handler = h
	return nil
}

func TestLogReplicationServer(t *testing.T) {
	_, log := logger.NewTestLogger()
	transport := &fakeServerTransport{}
	srv := NewLogReplicationServer(transport, log)

	calls := 0
	require.NoError(t, srv.Serve(HandlerFunc(func(context.Context, *protocol.LogReplicationRequest) (*protocol.LogReplicationResponse, error) {
		calls++
		return &protocol.LogReplicationResponse{ToPosition: 1, SerializedEvents: []byte{1}}, nil
	})))
	require.NotNil(t, transport.handler)

	resp, err := transport.handler.OnReplicationRequest(context.Background(), &protocol.LogReplicationRequest{})
	require.NoError(t, err)
	assert.True(t, resp.IsValid())
	assert.Equal(t, 1, calls)

	require.NoError(t, srv.Close())
	_, err = transport.handler.OnReplicationRequest(context.Background(), &protocol.LogReplicationRequest{})
	assert.ErrorIs(t, err, ErrServerClosed)
	assert.ErrorIs(t, srv.Serve(NewLogReaderHandler(storage.NewMemoryLog(), 0)), ErrServerClosed)
}
