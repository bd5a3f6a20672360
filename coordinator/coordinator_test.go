package coordinator

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/internal/replication"
	"github.com/shrtyk/logstream-core/internal/retry"
	"github.com/shrtyk/logstream-core/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticMembers struct {
	ids  []api.MemberID
	down map[api.MemberID]bool
}

func (m *staticMembers) Members() []api.MemberID { return slices.Clone(m.ids) }

func (m *staticMembers) IsMemberAvailable(id api.MemberID) bool { return !m.down[id] }

type call struct {
	member    api.MemberID
	from, to  int64
	including bool
}

type result struct {
	reached int64
	err     error
}

// scriptedReplicator answers sessions from a queue of results.
type scriptedReplicator struct {
	mu      sync.Mutex
	calls   []call
	results []result
}

func (r *scriptedReplicator) Replicate(_ context.Context, member api.MemberID, from, to int64) (int64, error) {
	return r.next(call{member: member, from: from, to: to})
}

func (r *scriptedReplicator) ReplicateIncluding(_ context.Context, member api.MemberID, from, to int64) (int64, error) {
	return r.next(call{member: member, from: from, to: to, including: true})
}

func (r *scriptedReplicator) next(c call) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	res := r.results[0]
	r.results = r.results[1:]
	return res.reached, res.err
}

func newCoordinator(members Members, r Replicator, attempts int) *CatchUpCoordinator {
	_, log := logger.NewTestLogger()
	return NewCatchUpCoordinator(members, r, api.ReplicationCfg{RetryAttempts: attempts}, log,
		retry.WithBaseDelay(time.Millisecond))
}

func TestCatchUp(t *testing.T) {
	ctx := context.Background()
	members := &staticMembers{ids: []api.MemberID{"c", "a", "b"}}

	t.Run("resumes from reached position on next member", func(t *testing.T) {
		r := &scriptedReplicator{results: []result{
			{30, errors.New("connection reset")},
			{50, nil},
		}}
		c := newCoordinator(members, r, 3)

		pos, err := c.CatchUp(ctx, 10, 50)
		require.NoError(t, err)
		assert.Equal(t, int64(50), pos)
		assert.Equal(t, []call{{member: "a", from: 10, to: 50}, {member: "b", from: 30, to: 50}}, r.calls)

		t.Run("prefers last successful member", func(t *testing.T) {
			r.results = []result{{60, nil}}
			_, err := c.CatchUp(ctx, 50, 60)
			require.NoError(t, err)
			assert.Equal(t, api.MemberID("b"), r.calls[len(r.calls)-1].member)
		})
	})

	t.Run("empty log starts at the first entry", func(t *testing.T) {
		r := &scriptedReplicator{results: []result{
			{0, errors.New("connection reset")},
			{20, errors.New("connection reset")},
			{30, nil},
		}}
		c := newCoordinator(members, r, 3)

		pos, err := c.CatchUp(ctx, 0, 30)
		require.NoError(t, err)
		assert.Equal(t, int64(30), pos)
		assert.Equal(t, []call{
			{member: "a", from: 1, to: 30, including: true},
			{member: "b", from: 1, to: 30, including: true},
			{member: "c", from: 20, to: 30},
		}, r.calls)
	})

	t.Run("skips unavailable members", func(t *testing.T) {
		r := &scriptedReplicator{results: []result{{5, nil}}}
		c := newCoordinator(&staticMembers{ids: []api.MemberID{"a", "b"}, down: map[api.MemberID]bool{"a": true}}, r, 1)

		_, err := c.CatchUp(ctx, 0, 5)
		require.NoError(t, err)
		assert.Equal(t, api.MemberID("b"), r.calls[0].member)
	})

	t.Run("append failure is not retried", func(t *testing.T) {
		appendErr := &replication.FailedAppendError{Server: "a", From: 0, To: 5, CommitPosition: 3, Result: -1}
		r := &scriptedReplicator{results: []result{{0, appendErr}}}
		c := newCoordinator(members, r, 3)

		pos, err := c.CatchUp(ctx, 0, 5)
		var failed *replication.FailedAppendError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, int64(0), pos)
		assert.Len(t, r.calls, 1)
	})

	t.Run("gives up after all attempts", func(t *testing.T) {
		invalid := &replication.InvalidResponseError{Server: "a", Reason: "no entries"}
		r := &scriptedReplicator{results: []result{{0, invalid}, {0, invalid}}}
		c := newCoordinator(members, r, 2)

		_, err := c.CatchUp(ctx, 0, 5)
		var ire *replication.InvalidResponseError
		assert.ErrorAs(t, err, &ire)
		assert.Len(t, r.calls, 2)
	})

	t.Run("no members", func(t *testing.T) {
		c := newCoordinator(&staticMembers{}, &scriptedReplicator{}, 1)
		_, err := c.CatchUp(ctx, 0, 5)
		assert.ErrorIs(t, err, ErrNoMemberAvailable)
	})

	t.Run("nothing to do", func(t *testing.T) {
		c := newCoordinator(members, &scriptedReplicator{}, 1)
		pos, err := c.CatchUp(ctx, 7, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(7), pos)
	})
}
