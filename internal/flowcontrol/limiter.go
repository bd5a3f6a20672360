// Package flowcontrol implements admission control for the write path.
//
// A Limiter admits operations while the number in flight stays below a limit
// that a CongestionControlAlgorithm keeps adjusting from observed latencies.
// Rejection is not an error: Acquire simply returns no Listener and the caller
// is expected to shed the operation or retry later.
package flowcontrol

import (
	"sync"
	"time"

	"github.com/shrtyk/logstream-core/api"
)

// Observer receives limiter state changes. metrics.FlowControlMetrics implements it.
type Observer interface {
	SetInflight(n int)
	SetLimit(n int)
	Accepted()
	Rejected()
}

// Limiter decides whether an operation may proceed.
type Limiter interface {
	// Acquire returns a Listener which must be released exactly once, or
	// false if the operation was rejected.
	Acquire(intent api.Intent) (*Listener, bool)
	Inflight() int
	Limit() int
}

// Outcome is how an admitted operation ended.
type Outcome int

const (
	_ Outcome = iota
	// OutcomeSuccess releases the slot and records a latency sample.
	OutcomeSuccess
	// OutcomeIgnore releases the slot without a sample, the operation
	// tells nothing about the load.
	OutcomeIgnore
	// OutcomeDrop releases the slot and records a sample marked as dropped.
	OutcomeDrop
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeIgnore:
		return "ignore"
	case OutcomeDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// Listener is the token of one admitted operation.
type Listener struct {
	limiter  *DynamicLimiter
	start    time.Time
	inflight int
	once     sync.Once
}

// Release reports the outcome of the operation. Only the first call has an effect.
func (l *Listener) Release(o Outcome) {
	l.once.Do(func() {
		if l.limiter != nil {
			l.limiter.release(l, o)
		}
	})
}

func (l *Listener) OnSuccess() { l.Release(OutcomeSuccess) }
func (l *Listener) OnIgnore()  { l.Release(OutcomeIgnore) }
func (l *Listener) OnDrop()    { l.Release(OutcomeDrop) }

type nopObserver struct{}

func (nopObserver) SetInflight(int) {}
func (nopObserver) SetLimit(int)    {}
func (nopObserver) Accepted()       {}
func (nopObserver) Rejected()       {}

type limiterConfig struct {
	bypass   func(api.Intent) bool
	observer Observer
	now      func() time.Time
}

// Option configures a DynamicLimiter.
type Option func(*limiterConfig)

// WithBypass lets intents matching fn skip the limit check. They are still
// counted in flight and must be released like any other.
func WithBypass(fn func(api.Intent) bool) Option {
	return func(c *limiterConfig) {
		c.bypass = fn
	}
}

// WithObserver publishes inflight and limit changes to o.
func WithObserver(o Observer) Option {
	return func(c *limiterConfig) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithClock replaces time.Now. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(c *limiterConfig) {
		c.now = now
	}
}

var _ Limiter = (*DynamicLimiter)(nil)

// DynamicLimiter is a Limiter driven by a CongestionControlAlgorithm.
//
// Safe for concurrent use.
type DynamicLimiter struct {
	mu       sync.Mutex
	algo     CongestionControlAlgorithm
	limit    int
	inflight int
	cfg      limiterConfig
}

func NewLimiter(algo CongestionControlAlgorithm, opts ...Option) *DynamicLimiter {
	cfg := limiterConfig{
		bypass:   func(api.Intent) bool { return false },
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	l := &DynamicLimiter{
		algo:  algo,
		limit: algo.Limit(),
		cfg:   cfg,
	}
	l.cfg.observer.SetLimit(l.limit)
	l.cfg.observer.SetInflight(0)
	return l
}

func (l *DynamicLimiter) Acquire(intent api.Intent) (*Listener, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inflight >= l.limit && !l.cfg.bypass(intent) {
		l.cfg.observer.Rejected()
		return nil, false
	}

	l.inflight++
	l.cfg.observer.Accepted()
	l.cfg.observer.SetInflight(l.inflight)
	return &Listener{
		limiter:  l,
		start:    l.cfg.now(),
		inflight: l.inflight,
	}, true
}

func (l *DynamicLimiter) release(lis *Listener, o Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.inflight--
	l.cfg.observer.SetInflight(l.inflight)

	if o == OutcomeIgnore {
		return
	}
	rtt := l.cfg.now().Sub(lis.start)
	newLimit := l.algo.OnSample(lis.start, rtt, lis.inflight, o == OutcomeDrop)
	if newLimit != l.limit {
		l.onNewLimit(newLimit)
	}
}

func (l *DynamicLimiter) onNewLimit(newLimit int) {
	l.limit = newLimit
	l.cfg.observer.SetLimit(newLimit)
}

func (l *DynamicLimiter) Inflight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight
}

func (l *DynamicLimiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// NewFromConfig returns the limiter configured by cfg, or a limiter that
// accepts everything if backpressure is disabled.
func NewFromConfig(cfg api.BackpressureCfg, opts ...Option) (Limiter, error) {
	if !cfg.Enabled {
		return NoopLimiter{}, nil
	}
	algo, err := NewAlgorithm(cfg)
	if err != nil {
		return nil, err
	}
	return NewLimiter(algo, opts...), nil
}

// NoopLimiter accepts every operation. Used when backpressure is turned off.
type NoopLimiter struct{}

func (NoopLimiter) Acquire(api.Intent) (*Listener, bool) {
	return &Listener{}, true
}

func (NoopLimiter) Inflight() int { return 0 }

func (NoopLimiter) Limit() int { return 0 }
