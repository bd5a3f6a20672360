// Package replication implements catch-up of a partition log from another
// member: the client side LogReplicator which pulls a range of entries in
// rounds, and the server side which answers those requests from a local log.
package replication

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/pkg/logger"
	"github.com/shrtyk/logstream-core/pkg/protocol"
)

// Observer receives replication progress. metrics.ReplicationMetrics implements it.
type Observer interface {
	RoundCompleted()
	SessionFailed()
}

type nopObserver struct{}

func (nopObserver) RoundCompleted() {}
func (nopObserver) SessionFailed()  {}

// LogReplicator pulls entries from another member and appends them locally.
// It never retries: any failure ends the session and the caller decides
// whether and where to continue from.
type LogReplicator struct {
	client         api.ReplicationClient
	appender       api.LogAppender
	logger         *slog.Logger
	observer       Observer
	requestTimeout time.Duration
	maxRounds      int
}

func NewLogReplicator(
	client api.ReplicationClient,
	appender api.LogAppender,
	cfg api.ReplicationCfg,
	log *slog.Logger,
	observer Observer,
) *LogReplicator {
	if observer == nil {
		observer = nopObserver{}
	}
	return &LogReplicator{
		client:         client,
		appender:       appender,
		logger:         log.With("component", "log-replicator"),
		observer:       observer,
		requestTimeout: cfg.RequestTimeout,
		maxRounds:      cfg.MaxRounds,
	}
}

// Replicate copies entries in (from, to] from server. It returns the last
// position appended locally.
func (r *LogReplicator) Replicate(ctx context.Context, server api.MemberID, from, to int64) (int64, error) {
	return r.replicate(ctx, server, from, to, false)
}

// ReplicateIncluding copies entries in [from, to] from server. Only the first
// round includes from, later rounds continue after the last appended position.
// A session that appends nothing reports from-1.
func (r *LogReplicator) ReplicateIncluding(ctx context.Context, server api.MemberID, from, to int64) (int64, error) {
	return r.replicate(ctx, server, from, to, true)
}

func (r *LogReplicator) replicate(ctx context.Context, server api.MemberID, from, to int64, includeFrom bool) (int64, error) {
	log := r.logger.With(slog.String("server", string(server)), slog.Int64("from", from), slog.Int64("to", to))

	position, err := r.run(ctx, server, from, to, includeFrom, log)
	if err != nil {
		r.observer.SessionFailed()
		return position, err
	}
	log.Debug("replication session completed", slog.Int64("position", position))
	return position, nil
}

func (r *LogReplicator) run(
	ctx context.Context,
	server api.MemberID,
	from, to int64,
	includeFrom bool,
	log *slog.Logger,
) (int64, error) {
	// reached is the last position known to be present locally.
	current, reached := from, from
	if includeFrom {
		reached = from - 1
	}
	for round := 1; ; round++ {
		req := protocol.LogReplicationRequest{
			FromPosition:        current,
			ToPosition:          to,
			IncludeFromPosition: includeFrom && round == 1,
		}

		resp, err := r.request(ctx, server, &req)
		if err != nil {
			return reached, fmt.Errorf("replication: request %s to %s failed: %w", req.String(), server, err)
		}
		if resp == nil {
			resp = &protocol.LogReplicationResponse{}
		}

		if reason := invalidReason(&req, resp); reason != "" {
			err := &InvalidResponseError{Server: server, Request: req, Response: *resp, Reason: reason}
			log.Warn("received invalid replication response", logger.ErrAttr(err))
			return reached, err
		}

		if result := r.appender.Append(resp.ToPosition, resp.SerializedEvents); result <= 0 {
			err := &FailedAppendError{Server: server, From: from, To: to, CommitPosition: resp.ToPosition, Result: result}
			log.Error("failed to append replicated entries", logger.ErrAttr(err))
			return reached, err
		}

		current, reached = resp.ToPosition, resp.ToPosition
		r.observer.RoundCompleted()
		log.Debug("replicated entries", slog.Int("round", round), slog.Int64("position", current))

		if current >= to || !resp.MoreAvailable {
			return current, nil
		}
		if r.maxRounds > 0 && round >= r.maxRounds {
			return current, fmt.Errorf("%w: reached %d of %d after %d rounds", ErrRoundsExhausted, current, to, round)
		}
	}
}

func (r *LogReplicator) request(
	ctx context.Context, server api.MemberID, req *protocol.LogReplicationRequest,
) (*protocol.LogReplicationResponse, error) {
	if r.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.requestTimeout)
		defer cancel()
	}
	return r.client.Replicate(ctx, server, req)
}

func invalidReason(req *protocol.LogReplicationRequest, resp *protocol.LogReplicationResponse) string {
	switch {
	case !resp.IsValid():
		return "no entries"
	case resp.ToPosition > req.ToPosition:
		return "beyond requested range"
	case resp.ToPosition < req.FromPosition,
		resp.ToPosition == req.FromPosition && !req.IncludeFromPosition:
		return "no progress"
	}
	return ""
}
