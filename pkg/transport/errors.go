package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/shrtyk/logstream-core/api"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var ErrNoHandler = errors.New("transport: no handler registered")

// toStatus converts handler errors into gRPC statuses so the remote side can
// tell corruption from unavailability.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, api.ErrCorruptedSnapshot):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, api.ErrSnapshotNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, api.ErrSnapshotAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, api.ErrStateClosed), errors.Is(err, api.ErrBrokerStopped), errors.Is(err, ErrNoHandler):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus restores the sentinel matching a status returned by a member.
func fromStatus(err error) error {
	s, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch s.Code() {
	case codes.DataLoss:
		return fmt.Errorf("%w: %w", api.ErrCorruptedSnapshot, err)
	case codes.NotFound:
		return fmt.Errorf("%w: %w", api.ErrSnapshotNotFound, err)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %w", api.ErrSnapshotAlreadyExists, err)
	default:
		return err
	}
}
