package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/internal/flowcontrol"
	"github.com/shrtyk/logstream-core/pkg/protocol"
)

// appendRetryInterval is how long a deferred append waits before asking the
// appender limiter again.
const appendRetryInterval = time.Millisecond

var errAppendRejected = errors.New("storage rejected append")

type asyncAppender interface {
	AppendAsync(entries []protocol.Entry) (<-chan error, error)
}

// Write assigns the next position to payload and appends it.
//
// Admission happens twice: the sequencer limiter may reject the command,
// which returns api.ErrWriteRejected unless intent is whitelisted, and the
// appender limiter defers the append until an in-flight append completes.
// Positions are handed out in the order commands reach the storage.
func (b *Broker) Write(ctx context.Context, intent api.Intent, payload []byte) (int64, error) {
	if !b.running.Load() {
		return 0, api.ErrBrokerStopped
	}

	b.writeMu.Lock()
	position := b.nextPosition
	if !b.sequencer.TryAcquire(position, intent) {
		b.writeMu.Unlock()
		return 0, fmt.Errorf("%w: intent %q", api.ErrWriteRejected, intent)
	}

	inflight, err := b.acquireAppend(ctx)
	if err != nil {
		b.writeMu.Unlock()
		b.sequencer.OnIgnore(position)
		return 0, err
	}

	done, err := b.appendAsync([]protocol.Entry{{Position: position, Data: payload}})
	if err != nil {
		b.writeMu.Unlock()
		inflight.OnWriteError(err)
		b.sequencer.OnIgnore(position)
		return 0, fmt.Errorf("failed to append position %d: %w", position, err)
	}
	b.nextPosition++
	b.writeMu.Unlock()

	inflight.OnWrite(position)
	if err := <-done; err != nil {
		inflight.OnCommitError(err)
		b.sequencer.OnIgnore(position)
		return 0, fmt.Errorf("failed to commit position %d: %w", position, err)
	}
	inflight.OnCommit(position)
	b.sequencer.OnResponse(position)
	return position, nil
}

func (b *Broker) acquireAppend(ctx context.Context) (*flowcontrol.InFlightAppend, error) {
	for {
		if inflight, ok := b.appender.TryAcquire(); ok {
			return inflight, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(appendRetryInterval):
		}
	}
}

// appendAsync enqueues entries and returns a channel with the result of
// making them durable. Storages without an asynchronous path are written
// synchronously.
func (b *Broker) appendAsync(entries []protocol.Entry) (<-chan error, error) {
	if s, ok := b.storage.(asyncAppender); ok {
		return s.AppendAsync(entries)
	}

	last := entries[len(entries)-1].Position
	if b.storage.Append(last, protocol.EncodeBlock(entries)) <= 0 {
		return nil, errAppendRejected
	}
	done := make(chan error, 1)
	done <- nil
	return done, nil
}
