package effects

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rickb777/date/v2/timespan"
	"go.uber.org/zap"
)

// Status is the lifecycle state of a task.
type Status int32

const (
	StatusRunning Status = iota
	StatusSuspended
	StatusDone
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSuspended:
		return "suspended"
	case StatusDone:
		return "done"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled || s == StatusFailed
}

// outcome is what a task is resumed with.
type outcome struct {
	value    any
	err      error
	rejected bool
}

// yield is what a task hands back to the scheduler: either its next effect
// or, when done is set, the result of its workflow.
type yield struct {
	effect Effect
	done   bool
	out    outcome
}

// cancelUnwind unwinds a workflow that keeps waiting after cancellation.
type cancelUnwind struct{}

type joiner struct {
	resume func(any, error)
	active bool
}

// Task is a running instance of a workflow.
//
// The effect methods (Do, Call, Put, Take, ...) may only be called from the
// task's own workflow goroutine. ID, Name, Status, Done, Wait, Err, Value and
// Span are safe from any goroutine.
type Task struct {
	id       uint64
	name     string
	engine   *Engine
	workflow Workflow
	args     []any
	logger   *zap.Logger
	status   atomic.Int32

	// Owned by the scheduler loop; the workflow goroutine only touches them
	// during its own turn.
	parent          *Task
	children        []*Task
	detached        []*Task
	running         bool
	cancelRequested bool
	signalled       bool
	mainDone        bool
	final           bool
	seq             uint64
	pending         func()
	joiners         []*joiner
	onCancel        []func()

	value any
	err   error

	resumeCh chan outcome
	yieldCh  chan yield
	done     chan struct{}

	startedAt  time.Time
	finishedAt time.Time
}

func newTask(e *Engine, parent *Task, wf Workflow, args []any, name string) *Task {
	id := e.nextID.Add(1)
	if name == "" {
		name = fmt.Sprintf("task-%d", id)
	}
	t := &Task{
		id:        id,
		name:      name,
		engine:    e,
		workflow:  wf,
		args:      args,
		parent:    parent,
		resumeCh:  make(chan outcome),
		yieldCh:   make(chan yield),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	t.logger = e.logger.With(zap.Uint64("task", id), zap.String("name", name))
	t.status.Store(int32(StatusRunning))
	return t
}

func (t *Task) ID() uint64            { return t.id }
func (t *Task) Name() string          { return t.name }
func (t *Task) Status() Status        { return Status(t.status.Load()) }
func (t *Task) Done() <-chan struct{} { return t.done }
func (t *Task) Logger() *zap.Logger   { return t.logger }
func (t *Task) String() string        { return fmt.Sprintf("%s#%d", t.name, t.id) }
func (t *Task) setStatus(s Status)    { t.status.Store(int32(s)) }

// IsRunning reports whether the task has not reached a terminal status.
func (t *Task) IsRunning() bool { return !t.Status().Terminal() }

// Wait blocks until the task is terminal or ctx is done.
// Never call it from a workflow: use Join instead.
func (t *Task) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the task error once it is terminal, nil before.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Value returns the task result once it is terminal, nil before.
func (t *Task) Value() any {
	select {
	case <-t.done:
		return t.value
	default:
		return nil
	}
}

// Span returns the lifetime of the task; for a live task it ends now.
func (t *Task) Span() timespan.TimeSpan {
	select {
	case <-t.done:
		return timespan.BetweenTimes(t.startedAt, t.finishedAt)
	default:
		return timespan.BetweenTimes(t.startedAt, time.Now())
	}
}

// main is the workflow goroutine.
func (t *Task) main() {
	first := <-t.resumeCh
	out := t.invoke(first)
	if t.cancelRequested {
		t.signalled = true
		t.runCancelHooks()
	}
	t.yieldCh <- yield{done: true, out: out}
}

func (t *Task) invoke(first outcome) (out outcome) {
	if first.err != nil {
		return first
	}
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(cancelUnwind); ok {
				out = outcome{err: ErrCancelled}
				return
			}
			out = outcome{err: &PanicError{Value: r}}
		}
	}()
	v, err := t.workflow(t, t.args...)
	return outcome{value: v, err: err}
}

func (t *Task) runCancelHooks() {
	hooks := t.onCancel
	t.onCancel = nil
	for _, hook := range slices.Backward(hooks) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					if _, ok := r.(cancelUnwind); !ok {
						t.logger.Error("panic in cancel hook", zap.Any("error", r))
					}
				}
			}()
			hook()
		}()
	}
}

// Do yields eff to the scheduler and returns its result.
func (t *Task) Do(eff Effect) (any, error) {
	t.yieldCh <- yield{effect: eff}
	out := <-t.resumeCh
	if out.rejected {
		panic(cancelUnwind{})
	}
	return out.value, out.err
}

// Call runs fn with args and waits for it to settle.
func (t *Task) Call(fn CallFunc, args ...any) (any, error) {
	return t.Do(Call{Fn: fn, Args: args})
}

// Put publishes ev.
func (t *Task) Put(ev Event) error {
	_, err := t.Do(Put{Event: ev})
	return err
}

// Take waits for an event matching p.
func (t *Task) Take(p Pattern) (Event, error) {
	v, err := t.Do(Take{Pattern: p})
	if err != nil {
		return Event{}, err
	}
	ev, _ := v.(Event)
	return ev, nil
}

// Fork starts wf as an attached child.
func (t *Task) Fork(wf Workflow, args ...any) (*Task, error) {
	return t.taskResult(t.Do(Fork{Workflow: wf, Args: args}))
}

// Spawn starts wf as a detached task.
func (t *Task) Spawn(wf Workflow, args ...any) (*Task, error) {
	return t.taskResult(t.Do(Spawn{Workflow: wf, Args: args}))
}

func (t *Task) taskResult(v any, err error) (*Task, error) {
	if err != nil {
		return nil, err
	}
	child, _ := v.(*Task)
	return child, nil
}

// Race runs alternatives and returns the first to settle.
func (t *Task) Race(alternatives ...Alternative) (RaceResult, error) {
	v, err := t.Do(Race{Alternatives: alternatives})
	if err != nil {
		return RaceResult{}, err
	}
	res, _ := v.(RaceResult)
	return res, nil
}

// All runs effs concurrently and returns their results in order.
func (t *Task) All(effs ...Effect) ([]any, error) {
	v, err := t.Do(All{Effects: effs})
	if err != nil {
		return nil, err
	}
	res, _ := v.([]any)
	return res, nil
}

// Delay suspends the task for d.
func (t *Task) Delay(d time.Duration) error {
	_, err := t.Do(Delay{Duration: d})
	return err
}

// Cancel requests cancellation of target; nil cancels t itself.
func (t *Task) Cancel(target *Task) error {
	_, err := t.Do(Cancel{Task: target})
	return err
}

// Cancelled reports whether t is being cancelled.
func (t *Task) Cancelled() bool {
	v, _ := t.Do(Cancelled{})
	b, _ := v.(bool)
	return b
}

// Select applies selector to the host state.
func (t *Task) Select(selector func(state any) any) (any, error) {
	return t.Do(Select{Selector: selector})
}

// Join waits for target to finish and returns its result.
func (t *Task) Join(target *Task) (any, error) {
	return t.Do(Join{Task: target})
}

// WithTimeout races eff against a delay of d. A delay win is reported as a
// *TimeoutError.
func (t *Task) WithTimeout(eff Effect, d time.Duration) (any, error) {
	const (
		labelResult  = "result"
		labelTimeout = "timeout"
	)
	res, err := t.Race(
		Alternative{Label: labelResult, Effect: eff},
		Alternative{Label: labelTimeout, Effect: Delay{Duration: d}},
	)
	if err != nil {
		return nil, err
	}
	if res.Label == labelTimeout {
		return nil, &TimeoutError{After: d}
	}
	return res.Value, nil
}

// OnCancel registers fn to run, after the workflow returns, if the task was
// cancelled. Hooks run last-registered first and may perform cleanup effects.
func (t *Task) OnCancel(fn func()) {
	t.onCancel = append(t.onCancel, fn)
}
