// Package retry runs an operation again with growing delays until it
// succeeds, fails permanently or runs out of attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

// Func is a function that can be retried. attempt starts at 0.
type Func func(ctx context.Context, attempt int) error

// DelayFunc is a closure which will return delay generator function
type DelayFunc func() func() time.Duration

type config struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	delayFunc   DelayFunc
	onRetry     func(attempt int, err error, delay time.Duration)
}

// Option configures the retrier
type Option func(*config)

// WithMaxAttempts sets the maximum number of attempts.
// The default is 3.
func WithMaxAttempts(n int) Option {
	return func(c *config) {
		c.maxAttempts = max(n, 1)
	}
}

// WithBaseDelay sets the delay before the second attempt, every following
// delay doubles. The default is 150ms.
func WithBaseDelay(d time.Duration) Option {
	return func(c *config) {
		c.baseDelay = d
	}
}

// WithMaxDelay caps the exponential delay.
func WithMaxDelay(d time.Duration) Option {
	return func(c *config) {
		c.maxDelay = d
	}
}

// WithDelayFunc sets the function which will
// return timeout duration for every attempt.
// It overrides WithBaseDelay and WithMaxDelay.
func WithDelayFunc(d DelayFunc) Option {
	return func(c *config) {
		c.delayFunc = d
	}
}

// WithOnRetry sets a hook called after a failed attempt, before waiting.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *config) {
		c.onRetry = fn
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func exponential(base, limit time.Duration) DelayFunc {
	return func() func() time.Duration {
		attempt := 0
		return func() time.Duration {
			delay := base << attempt
			attempt++
			if limit > 0 && (delay > limit || delay <= 0) {
				return limit
			}
			return delay
		}
	}
}

func Do(ctx context.Context, fn Func, opts ...Option) error {
	cfg := &config{
		maxAttempts: 3,
		baseDelay:   150 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.delayFunc == nil {
		cfg.delayFunc = exponential(cfg.baseDelay, cfg.maxDelay)
	}

	var lastErr error
	df := cfg.delayFunc()
	for attempt := range cfg.maxAttempts {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if attempt == cfg.maxAttempts-1 {
			break
		}

		delay := df()
		if cfg.onRetry != nil {
			cfg.onRetry(attempt, lastErr, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
