// Package startup brings a set of dependent components up in order and
// tears them down in reverse.
package startup

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shrtyk/logstream-core/pkg/logger"
)

const (
	phaseStartup  = "startup"
	phaseShutdown = "shutdown"
)

type State int

const (
	NotStarted State = iota
	Starting
	Started
	StartupFailed
	Aborting
	ShuttingDown
	ShutDown
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Starting:
		return "starting"
	case Started:
		return "started"
	case StartupFailed:
		return "startup failed"
	case Aborting:
		return "aborting"
	case ShuttingDown:
		return "shutting down"
	case ShutDown:
		return "shut down"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Step is one component of a Process. C is the context value threaded
// through the steps, each step returns the value handed to the next one.
type Step[C any] interface {
	Name() string
	Startup(ctx context.Context, c C) (C, error)
	Shutdown(ctx context.Context, c C) (C, error)
}

type funcStep[C any] struct {
	name     string
	startup  func(context.Context, C) (C, error)
	shutdown func(context.Context, C) (C, error)
}

// NewStep builds a Step from functions. A nil shutdown is a no-op.
func NewStep[C any](
	name string,
	startup func(ctx context.Context, c C) (C, error),
	shutdown func(ctx context.Context, c C) (C, error),
) Step[C] {
	return &funcStep[C]{name: name, startup: startup, shutdown: shutdown}
}

func (s *funcStep[C]) Name() string { return s.name }

func (s *funcStep[C]) Startup(ctx context.Context, c C) (C, error) {
	return s.startup(ctx, c)
}

func (s *funcStep[C]) Shutdown(ctx context.Context, c C) (C, error) {
	if s.shutdown == nil {
		return c, nil
	}
	return s.shutdown(ctx, c)
}

// Process runs steps in declaration order on Startup and shuts the started
// ones down in reverse order on Shutdown.
//
// Startup may be called only once. Shutdown may be called any number of
// times, concurrently too; every call observes the result of the first one.
type Process[C any] struct {
	name   string
	steps  []Step[C]
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	started     []Step[C]
	startupDone chan struct{}

	shutdownDone chan struct{}
	shutdownRes  C
	shutdownErr  error
}

func New[C any](name string, log *slog.Logger, steps ...Step[C]) *Process[C] {
	return &Process[C]{
		name:   name,
		steps:  steps,
		logger: log.With("process", name),
	}
}

func (p *Process[C]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Startup starts every step in order, each one only after the previous one
// succeeded. A failed step is returned as *StepError and leaves the already
// started steps running: calling Shutdown is up to the caller.
//
// If Shutdown is called meanwhile, the running step finishes, the remaining
// steps are skipped and Startup returns ErrStartupAborted.
func (p *Process[C]) Startup(ctx context.Context, c C) (C, error) {
	p.mu.Lock()
	if p.startupDone != nil {
		p.mu.Unlock()
		panic(fmt.Sprintf("startup: Startup of %s called more than once", p.name))
	}
	p.startupDone = make(chan struct{})
	defer close(p.startupDone)
	if p.state != NotStarted {
		// shut down before ever starting
		p.mu.Unlock()
		return c, ErrStartupAborted
	}
	p.state = Starting
	p.mu.Unlock()

	for _, step := range p.steps {
		if p.aborting() {
			p.logger.Info("startup aborted", slog.String("skipped_from", step.Name()))
			return c, ErrStartupAborted
		}

		start := time.Now()
		next, err := step.Startup(ctx, c)
		if err != nil {
			p.logger.Error("step failed to start", slog.String("step", step.Name()), logger.ErrAttr(err))
			p.setStateIf(Starting, StartupFailed)
			return c, &StepError{Step: step.Name(), Phase: phaseStartup, Err: err}
		}
		c = next

		p.mu.Lock()
		p.started = append(p.started, step)
		p.mu.Unlock()
		p.logger.Debug("step started",
			slog.String("step", step.Name()),
			slog.Duration("took", time.Since(start)))
	}

	if !p.setStateIf(Starting, Started) {
		return c, ErrStartupAborted
	}
	p.logger.Info("started", slog.Int("steps", len(p.steps)))
	return c, nil
}

func (p *Process[C]) aborting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == Aborting
}

func (p *Process[C]) setStateIf(expected, next State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != expected {
		return false
	}
	p.state = next
	return true
}

// Shutdown shuts every started step down in reverse order. Failing steps do
// not stop the others, their errors are collected into *ShutdownError.
func (p *Process[C]) Shutdown(ctx context.Context, c C) (C, error) {
	p.mu.Lock()
	if p.shutdownDone != nil {
		done := p.shutdownDone
		p.mu.Unlock()
		select {
		case <-done:
			return p.shutdownRes, p.shutdownErr
		case <-ctx.Done():
			var zero C
			return zero, ctx.Err()
		}
	}
	p.shutdownDone = make(chan struct{})
	startupDone := p.startupDone
	if p.state == Starting {
		p.state = Aborting
	} else {
		p.state = ShuttingDown
	}
	p.mu.Unlock()

	if startupDone != nil {
		// the running step is never interrupted
		<-startupDone
	}

	p.mu.Lock()
	p.state = ShuttingDown
	started := slices.Clone(p.started)
	p.mu.Unlock()

	var errs []*StepError
	for _, step := range slices.Backward(started) {
		next, err := step.Shutdown(ctx, c)
		if err != nil {
			p.logger.Error("step failed to shut down", slog.String("step", step.Name()), logger.ErrAttr(err))
			errs = append(errs, &StepError{Step: step.Name(), Phase: phaseShutdown, Err: err})
			continue
		}
		c = next
		p.logger.Debug("step shut down", slog.String("step", step.Name()))
	}

	p.mu.Lock()
	p.state = ShutDown
	p.shutdownRes = c
	if len(errs) > 0 {
		p.shutdownErr = &ShutdownError{Process: p.name, Errs: errs}
	}
	close(p.shutdownDone)
	p.mu.Unlock()

	p.logger.Info("shut down", slog.Int("failed_steps", len(errs)))
	return c, p.shutdownErr
}
