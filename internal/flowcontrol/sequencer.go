package flowcontrol

import (
	"log/slog"
	"sync"

	"github.com/google/btree"
	"github.com/shrtyk/logstream-core/api"
)

// listenerID orders registered listeners by log position. seq separates
// admissions that end up at the same position.
type listenerID struct {
	position int64
	seq      uint64
}

type registered struct {
	id       listenerID
	listener *Listener
}

func registeredLess(a, b registered) bool {
	if a.id.position != b.id.position {
		return a.id.position < b.id.position
	}
	return a.id.seq < b.id.seq
}

type acquireEvent struct {
	position int64
	intent   api.Intent
	reply    chan bool
}

type releaseEvent struct {
	position int64
	outcome  Outcome
}

type pendingEvent struct {
	reply chan int
}

// SequencerFlowControl admits commands before they are sequenced and keeps
// their listeners keyed by the log position they are written to. Once the
// processing outcome of position P is known, every listener at or below P is
// released, since writes are batched and one confirmation covers all of them.
//
// All state is owned by a single goroutine, public methods only exchange
// events with it. Releases are delivered in the order they were sent.
type SequencerFlowControl struct {
	limiter   Limiter
	logger    *slog.Logger
	listeners *btree.BTreeG[registered]
	seq       uint64

	events    chan any
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSequencerFlowControl starts the event loop. Whitelisted intents bypass
// the rejection of limiter only if it was built with WithBypass(IsWhitelisted),
// see NewSequencerLimiter.
func NewSequencerFlowControl(limiter Limiter, log *slog.Logger) *SequencerFlowControl {
	s := &SequencerFlowControl{
		limiter:   limiter,
		logger:    log.With("component", "sequencer-flow-control"),
		listeners: btree.NewG(btreeDegree, registeredLess),
		events:    make(chan any, 256),
		done:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// NewSequencerLimiter builds the limiter for sequencer admission: the
// configured algorithm plus the intent whitelist.
func NewSequencerLimiter(cfg api.BackpressureCfg, observer Observer) (Limiter, error) {
	return NewFromConfig(cfg, WithBypass(IsWhitelisted), WithObserver(observer))
}

const btreeDegree = 16

// TryAcquire admits a command that will be written at position.
// It returns false when the command must be rejected.
func (s *SequencerFlowControl) TryAcquire(position int64, intent api.Intent) bool {
	ev := acquireEvent{position: position, intent: intent, reply: make(chan bool, 1)}
	select {
	case s.events <- ev:
	case <-s.done:
		return false
	}
	select {
	case ok := <-ev.reply:
		return ok
	case <-s.done:
		return false
	}
}

// OnResponse releases every listener registered at or below position as successful.
func (s *SequencerFlowControl) OnResponse(position int64) {
	s.send(releaseEvent{position: position, outcome: OutcomeSuccess})
}

// OnIgnore releases every listener registered at or below position without
// a latency sample. Used when the commands were never durably written.
func (s *SequencerFlowControl) OnIgnore(position int64) {
	s.send(releaseEvent{position: position, outcome: OutcomeIgnore})
}

// Pending returns the number of registered listeners.
func (s *SequencerFlowControl) Pending() int {
	ev := pendingEvent{reply: make(chan int, 1)}
	select {
	case s.events <- ev:
	case <-s.done:
		return 0
	}
	select {
	case n := <-ev.reply:
		return n
	case <-s.done:
		return 0
	}
}

func (s *SequencerFlowControl) Limiter() Limiter {
	return s.limiter
}

// Close stops the event loop and releases outstanding listeners as ignored.
func (s *SequencerFlowControl) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

func (s *SequencerFlowControl) send(ev any) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *SequencerFlowControl) run() {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-s.done:
			s.releaseUpTo(maxPosition, OutcomeIgnore)
			return
		}
	}
}

const maxPosition = int64(^uint64(0) >> 1)

func (s *SequencerFlowControl) handle(ev any) {
	switch ev := ev.(type) {
	case acquireEvent:
		ev.reply <- s.tryAcquire(ev.position, ev.intent)
	case releaseEvent:
		s.releaseUpTo(ev.position, ev.outcome)
	case pendingEvent:
		ev.reply <- s.listeners.Len()
	}
}

func (s *SequencerFlowControl) tryAcquire(position int64, intent api.Intent) bool {
	listener, ok := s.limiter.Acquire(intent)
	if !ok {
		s.logger.Debug("rejected command", slog.Int64("position", position), slog.String("intent", string(intent)))
		return false
	}
	s.seq++
	s.listeners.ReplaceOrInsert(registered{
		id:       listenerID{position: position, seq: s.seq},
		listener: listener,
	})
	return true
}

func (s *SequencerFlowControl) releaseUpTo(position int64, o Outcome) {
	for {
		first, ok := s.listeners.Min()
		if !ok || first.id.position > position {
			return
		}
		s.listeners.DeleteMin()
		first.listener.Release(o)
	}
}
