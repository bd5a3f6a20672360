package protocol

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestLogReplicationResponseIsValid(t *testing.T) {
	tests := []struct {
		name string
		resp *LogReplicationResponse
		want bool
	}{
		{"nil", nil, false},
		{"zero to position", &LogReplicationResponse{ToPosition: 0, SerializedEvents: []byte{1}}, false},
		{"negative to position", &LogReplicationResponse{ToPosition: -5, SerializedEvents: []byte{1}}, false},
		{"empty events", &LogReplicationResponse{ToPosition: 10}, false},
		{"valid", &LogReplicationResponse{ToPosition: 10, SerializedEvents: []byte{1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resp.IsValid())
		})
	}
}

func TestMessagesEncoding(t *testing.T) {
	t.Run("request", func(t *testing.T) {
		in := &LogReplicationRequest{FromPosition: 10, ToPosition: 50, IncludeFromPosition: true}
		b, err := in.Marshal()
		require.NoError(t, err)

		out := new(LogReplicationRequest)
		require.NoError(t, out.Unmarshal(b))
		if diff := cmp.Diff(in, out); diff != "" {
			t.Errorf("request mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, "[10, 50]", out.String())
	})

	t.Run("chunk", func(t *testing.T) {
		in := &SnapshotChunk{
			SnapshotID:       "3-1-30-25",
			TotalCount:       2,
			ChunkName:        "state.db",
			Checksum:         0xdeadbeef,
			SnapshotChecksum: 0x1,
			Content:          []byte("payload"),
		}
		b, err := in.Marshal()
		require.NoError(t, err)

		out := new(SnapshotChunk)
		require.NoError(t, out.Unmarshal(b))
		if diff := cmp.Diff(in, out); diff != "" {
			t.Errorf("chunk mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown fields are skipped", func(t *testing.T) {
		resp := &LogReplicationResponse{ToPosition: 7, MoreAvailable: true, SerializedEvents: []byte("x")}
		b, err := resp.Marshal()
		require.NoError(t, err)
		b = protowire.AppendTag(b, 42, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte("future field"))

		out := new(LogReplicationResponse)
		require.NoError(t, out.Unmarshal(b))
		assert.Equal(t, resp, out)
	})

	t.Run("wrong wire type", func(t *testing.T) {
		b := protowire.AppendTag(nil, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte("x"))
		err := new(LogReplicationRequest).Unmarshal(b)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("truncated", func(t *testing.T) {
		b, err := (&SnapshotChunk{Content: []byte("abcdef")}).Marshal()
		require.NoError(t, err)
		err = new(SnapshotChunk).Unmarshal(b[:len(b)-2])
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestBlock(t *testing.T) {
	entries := []Entry{
		{Position: 11, Data: []byte("a")},
		{Position: 12, Data: []byte("bb")},
		{Position: 13, Data: []byte{}},
	}
	block := EncodeBlock(entries)

	size := 0
	for _, e := range entries {
		size += e.Size()
	}
	assert.Len(t, block, size)

	got, err := DecodeBlock(block)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range entries {
		assert.Equal(t, entries[i].Position, got[i].Position)
		assert.Equal(t, string(entries[i].Data), string(got[i].Data))
	}

	t.Run("scan stops early", func(t *testing.T) {
		var seen []int64
		require.NoError(t, ScanBlock(block, func(e Entry) bool {
			seen = append(seen, e.Position)
			return e.Position < 12
		}))
		assert.Equal(t, []int64{11, 12}, seen)
	})

	t.Run("out of order positions", func(t *testing.T) {
		bad := EncodeBlock([]Entry{{Position: 5}, {Position: 4}})
		_, err := DecodeBlock(bad)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := DecodeBlock(block[:len(block)-1])
		assert.ErrorIs(t, err, ErrMalformed)
	})
}
