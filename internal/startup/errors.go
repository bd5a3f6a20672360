package startup

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStartupAborted is returned by Startup when Shutdown was requested
// before all steps were started.
var ErrStartupAborted = errors.New("startup: aborted by shutdown")

// StepError wraps the failure of a single step.
type StepError struct {
	Step  string
	Phase string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s of step %q failed: %v", e.Phase, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ShutdownError aggregates the failures of every step that failed to shut down.
type ShutdownError struct {
	Process string
	Errs    []*StepError
}

func (e *ShutdownError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "shutdown of %s failed in %d step(s)", e.Process, len(e.Errs))
	for _, err := range e.Errs {
		b.WriteString("; ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *ShutdownError) Unwrap() []error {
	errs := make([]error, len(e.Errs))
	for i, err := range e.Errs {
		errs[i] = err
	}
	return errs
}
