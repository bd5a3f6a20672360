package flowcontrol

import (
	"log/slog"
	"time"

	"github.com/shrtyk/logstream-core/pkg/logger"
)

// AppenderObserver receives append flow control metrics.
// metrics.AppenderMetrics implements it.
type AppenderObserver interface {
	IncreaseTriedAppends()
	IncreaseDeferredAppends()
	SetLastWrittenPosition(pos int64)
	SetLastCommittedPosition(pos int64)
	ObserveAppendLatency(d time.Duration)
	ObserveCommitLatency(d time.Duration)
}

// AppenderFlowControl guards appends to the storage layer.
type AppenderFlowControl struct {
	limiter  Limiter
	observer AppenderObserver
	logger   *slog.Logger
	now      func() time.Time
}

func NewAppenderFlowControl(limiter Limiter, observer AppenderObserver, log *slog.Logger) *AppenderFlowControl {
	return &AppenderFlowControl{
		limiter:  limiter,
		observer: observer,
		logger:   log.With("component", "appender-flow-control"),
		now:      time.Now,
	}
}

// TryAcquire admits one append. A rejected append is counted as deferred.
func (a *AppenderFlowControl) TryAcquire() (*InFlightAppend, bool) {
	a.observer.IncreaseTriedAppends()
	listener, ok := a.limiter.Acquire("")
	if !ok {
		a.observer.IncreaseDeferredAppends()
		return nil, false
	}
	return &InFlightAppend{
		fc:       a,
		listener: listener,
		started:  a.now(),
	}, true
}

func (a *AppenderFlowControl) Limiter() Limiter {
	return a.limiter
}

// InFlightAppend tracks one admitted append from write to commit.
type InFlightAppend struct {
	fc       *AppenderFlowControl
	listener *Listener
	started  time.Time
	written  time.Time
	highest  int64
}

// OnWrite marks the append as written up to highestPosition.
func (f *InFlightAppend) OnWrite(highestPosition int64) {
	f.written = f.fc.now()
	f.highest = highestPosition
	f.fc.observer.ObserveAppendLatency(f.written.Sub(f.started))
	f.fc.observer.SetLastWrittenPosition(highestPosition)
}

// OnCommit releases the append as successful.
func (f *InFlightAppend) OnCommit(position int64) {
	if !f.written.IsZero() {
		f.fc.observer.ObserveCommitLatency(f.fc.now().Sub(f.written))
	}
	f.fc.observer.SetLastCommittedPosition(position)
	f.listener.OnSuccess()
}

func (f *InFlightAppend) OnWriteError(err error) {
	f.fc.logger.Error("failed to write entries", logger.ErrAttr(err))
	f.listener.OnDrop()
}

func (f *InFlightAppend) OnCommitError(err error) {
	f.fc.logger.Error("failed to commit entries",
		slog.Int64("position", f.highest), logger.ErrAttr(err))
	f.listener.OnDrop()
}
