package effects

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCancelled is the cancellation signal injected into a cancelled task.
	// It is not a failure: a task that returns it ends as StatusCancelled.
	ErrCancelled = errors.New("task cancelled")

	// ErrCallFailed marks errors returned by the function of a Call effect.
	ErrCallFailed = errors.New("call failed")

	// ErrTimeout marks a race lost to its Delay alternative.
	ErrTimeout = errors.New("timed out")

	// ErrDuplicateBoot is returned by Engine.Start when a root is already running.
	ErrDuplicateBoot = errors.New("engine already booted")

	// ErrTaskCancelled is returned by Join when the joined task was cancelled.
	ErrTaskCancelled = errors.New("joined task was cancelled")

	// ErrEngineClosed is returned once the engine is stopping or stopped.
	ErrEngineClosed = errors.New("engine closed")

	// ErrEmptyRace fails a Race without alternatives.
	ErrEmptyRace = errors.New("race without alternatives")

	// ErrUnsupportedEffect fails an effect the scheduler cannot perform, such
	// as a Join on the joining task itself.
	ErrUnsupportedEffect = errors.New("unsupported effect")

	// ErrNilCall fails a Call without a function.
	ErrNilCall = errors.New("call effect without function")

	// ErrNilWorkflow is returned when a nil workflow is started or forked.
	ErrNilWorkflow = errors.New("nil workflow")
)

// IsCancelled reports whether err carries the cancellation signal.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// CallError wraps the error returned by the function of a Call effect.
type CallError struct {
	Name string
	Err  error
}

func (e *CallError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%v: %v", ErrCallFailed, e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", ErrCallFailed, e.Name, e.Err)
}

func (e *CallError) Unwrap() []error {
	return []error{ErrCallFailed, e.Err}
}

// TimeoutError is produced by Task.WithTimeout when the delay wins the race.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%v after %v", ErrTimeout, e.After)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// PanicError carries a value recovered from a workflow, a call or a selector.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
