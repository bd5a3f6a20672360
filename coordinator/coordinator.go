// Package coordinator drives catch-up replication sessions against the
// members of a partition, moving on to another member when one fails.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/internal/replication"
	"github.com/shrtyk/logstream-core/internal/retry"
	"github.com/shrtyk/logstream-core/pkg/logger"
)

var ErrNoMemberAvailable = errors.New("coordinator: no member available")

// Replicator runs a single catch-up session. replication.LogReplicator implements it.
type Replicator interface {
	Replicate(ctx context.Context, server api.MemberID, from, to int64) (int64, error)
	ReplicateIncluding(ctx context.Context, server api.MemberID, from, to int64) (int64, error)
}

// firstPosition is the position of the first entry of a partition.
const firstPosition int64 = 1

// Members lists the members sessions can be run against. api.Transport implements it.
type Members interface {
	Members() []api.MemberID
	IsMemberAvailable(member api.MemberID) bool
}

// CatchUpCoordinator retries catch-up from the last position reached,
// starting with the member that served the previous session successfully.
type CatchUpCoordinator struct {
	logger     *slog.Logger
	members    Members
	replicator Replicator
	opts       []retry.Option

	mu        sync.Mutex
	preferred api.MemberID
}

func NewCatchUpCoordinator(
	members Members,
	replicator Replicator,
	cfg api.ReplicationCfg,
	log *slog.Logger,
	opts ...retry.Option,
) *CatchUpCoordinator {
	c := &CatchUpCoordinator{
		logger:     log.With("component", "catch-up-coordinator"),
		members:    members,
		replicator: replicator,
	}
	c.opts = append([]retry.Option{
		retry.WithMaxAttempts(max(cfg.RetryAttempts, 1)),
		retry.WithMaxDelay(5 * time.Second),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			c.logger.Warn("catch-up attempt failed",
				slog.Int("attempt", attempt+1),
				slog.Duration("retry_in", delay),
				logger.ErrAttr(err))
		}),
	}, opts...)
	return c
}

// CatchUp replicates (from, to] and returns the last position appended.
// Progress made by a failed session is kept: the next attempt continues
// after it. A local append failure is not retried.
func (c *CatchUpCoordinator) CatchUp(ctx context.Context, from, to int64) (int64, error) {
	if from >= to {
		return from, nil
	}
	position := from
	session := uuid.NewString()
	log := c.logger.With(slog.String("session", session), slog.Int64("to", to))

	err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
		member, err := c.pick(attempt)
		if err != nil {
			return err
		}
		log.Debug("starting catch-up", slog.String("member", string(member)), slog.Int64("from", position))

		reached, err := c.session(ctx, member, position, to)
		position = max(position, reached)
		if err == nil {
			c.setPreferred(member)
			return nil
		}

		var failed *replication.FailedAppendError
		if errors.As(err, &failed) {
			return retry.Permanent(err)
		}
		return fmt.Errorf("member %s: %w", member, err)
	}, c.opts...)
	if err != nil {
		return position, fmt.Errorf("catch-up to %d stopped at %d: %w", to, position, err)
	}

	log.Info("caught up", slog.Int64("position", position))
	return position, nil
}

// pick returns the available member for the given attempt. Attempts rotate
// through members starting at the preferred one.
func (c *CatchUpCoordinator) pick(attempt int) (api.MemberID, error) {
	all := c.members.Members()
	slices.Sort(all)
	available := slices.DeleteFunc(all, func(m api.MemberID) bool {
		return !c.members.IsMemberAvailable(m)
	})
	if len(available) == 0 {
		return "", ErrNoMemberAvailable
	}

	c.mu.Lock()
	start := max(slices.Index(available, c.preferred), 0)
	c.mu.Unlock()
	return available[(start+attempt)%len(available)], nil
}

func (c *CatchUpCoordinator) setPreferred(m api.MemberID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preferred = m
}

// session replicates (from, to] from member. A log without entries has no
// position to continue after, so its session starts at the first entry.
func (c *CatchUpCoordinator) session(ctx context.Context, member api.MemberID, from, to int64) (int64, error) {
	if from < firstPosition {
		return c.replicator.ReplicateIncluding(ctx, member, firstPosition, to)
	}
	return c.replicator.Replicate(ctx, member, from, to)
}
