// Package watcher provides the long-running take loops that bind event
// patterns to worker workflows.
//
// Watchers are ordinary workflows built only from public Task effects, so
// they fork, cancel and join like any other task.
package watcher

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/on-the-ground/saga_ive_go/effects"
)

// Strategy decides what a watcher does with an event while a previous worker
// is still running.
type Strategy int

const (
	// Every forks a worker for every matching event.
	Every Strategy = iota
	// Latest cancels the running worker before forking a new one.
	Latest
	// Leading ignores events until the running worker has finished.
	Leading
)

func (s Strategy) String() string {
	switch s {
	case Every:
		return "every"
	case Latest:
		return "latest"
	case Leading:
		return "leading"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Worker handles one matching event. It runs as a child of the watcher.
type Worker func(t *effects.Task, ev effects.Event) (any, error)

func (w Worker) workflow() effects.Workflow {
	return func(t *effects.Task, args ...any) (any, error) {
		ev, _ := args[0].(effects.Event)
		return w(t, ev)
	}
}

// TakeEvery forks worker for every event matching pattern.
func TakeEvery(pattern effects.Pattern, worker Worker) effects.Workflow {
	wf := worker.workflow()
	return func(t *effects.Task, _ ...any) (any, error) {
		for {
			ev, err := t.Take(pattern)
			if err != nil {
				return nil, err
			}
			if _, err := t.Fork(wf, ev); err != nil {
				return nil, err
			}
		}
	}
}

// TakeLatest forks worker for every event matching pattern, cancelling the
// previous worker if it is still running.
func TakeLatest(pattern effects.Pattern, worker Worker) effects.Workflow {
	wf := worker.workflow()
	return func(t *effects.Task, _ ...any) (any, error) {
		var last *effects.Task
		for {
			ev, err := t.Take(pattern)
			if err != nil {
				return nil, err
			}
			if last != nil && last.IsRunning() {
				t.Logger().Debug("cancelling previous worker", zap.Stringer("worker", last), zap.String("event", ev.Type))
				if err := t.Cancel(last); err != nil {
					return nil, err
				}
			}
			if last, err = t.Fork(wf, ev); err != nil {
				return nil, err
			}
		}
	}
}

// TakeLeading runs worker for a matching event and ignores further events
// until it has finished.
func TakeLeading(pattern effects.Pattern, worker Worker) effects.Workflow {
	wf := worker.workflow()
	return func(t *effects.Task, _ ...any) (any, error) {
		for {
			ev, err := t.Take(pattern)
			if err != nil {
				return nil, err
			}
			task, err := t.Fork(wf, ev)
			if err != nil {
				return nil, err
			}
			if _, err := t.Join(task); err != nil {
				if effects.IsCancelled(err) {
					return nil, err
				}
				t.Logger().Debug("leading worker ended with error", zap.Stringer("worker", task), zap.Error(err))
			}
		}
	}
}

// Binding ties a pattern to a worker under a strategy.
type Binding struct {
	Name     string
	Pattern  effects.Pattern
	Worker   Worker
	Strategy Strategy
}

// Workflow returns the watcher loop for b.
func (b Binding) Workflow() effects.Workflow {
	switch b.Strategy {
	case Latest:
		return TakeLatest(b.Pattern, b.Worker)
	case Leading:
		return TakeLeading(b.Pattern, b.Worker)
	default:
		return TakeEvery(b.Pattern, b.Worker)
	}
}

// ForkAll forks a watcher for every binding as a child of t.
func ForkAll(t *effects.Task, bindings ...Binding) ([]*effects.Task, error) {
	tasks := make([]*effects.Task, 0, len(bindings))
	for _, b := range bindings {
		if b.Worker == nil {
			return tasks, fmt.Errorf("%w: binding %q has no worker", effects.ErrNilWorkflow, b.Name)
		}
		task, err := t.Do(effects.Fork{Workflow: b.Workflow(), Name: b.Name})
		if err != nil {
			return tasks, err
		}
		tasks = append(tasks, task.(*effects.Task))
		t.Logger().Debug("watcher started", zap.String("watcher", b.Name), zap.Stringer("strategy", b.Strategy))
	}
	return tasks, nil
}
