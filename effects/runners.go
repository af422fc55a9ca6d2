package effects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// runEffect starts eff on behalf of t. done is called at most once, possibly
// before runEffect returns. The returned function cancels the effect; after
// it runs done is never called.
func (e *Engine) runEffect(t *Task, eff Effect, done func(outcome)) func() {
	settled := false
	settle := func(o outcome) {
		if settled {
			return
		}
		settled = true
		done(o)
	}

	var cancel func()
	switch eff := eff.(type) {
	case Call:
		cancel = e.runCall(t, eff, settle)
	case Put:
		e.publish(eff.Event)
		settle(outcome{})
	case Take:
		tk := e.channel.register(eff.Pattern, func(ev Event) { settle(outcome{value: ev}) })
		cancel = func() { e.channel.remove(tk) }
	case Fork:
		e.runFork(t, eff.Workflow, eff.Args, eff.Name, false, settle)
	case Spawn:
		e.runFork(t, eff.Workflow, eff.Args, eff.Name, true, settle)
	case Race:
		cancel = e.runRace(t, eff, settle)
	case All:
		cancel = e.runAll(t, eff, settle)
	case Delay:
		cancel = e.runDelay(eff, settle)
	case Cancel:
		target := eff.Task
		if target == nil {
			target = t
		}
		e.cancelTask(target)
		settle(outcome{})
	case Cancelled:
		settle(outcome{value: t.cancelRequested})
	case Select:
		settle(e.runSelect(eff))
	case Join:
		cancel = e.runJoin(t, eff, settle)
	default:
		settle(outcome{err: fmt.Errorf("%w: %T", ErrUnsupportedEffect, eff)})
	}

	return func() {
		if settled {
			return
		}
		settled = true
		if cancel != nil {
			cancel()
		}
	}
}

func (e *Engine) runCall(t *Task, call Call, done func(outcome)) func() {
	if call.Fn == nil {
		done(outcome{err: ErrNilCall})
		return nil
	}

	ctx, cancel := context.WithCancel(e.ctx)
	logger := t.logger.With(zap.String("call", call.Name), zap.String("key", call.Key))
	logger.Debug("call submitted")
	started := time.Now()

	err := e.exec.Submit(call.Key, func(context.Context) {
		v, err := e.invokeCall(ctx, call)
		cancel()
		logger.Debug("call settled", zap.Duration("duration", time.Since(started)), zap.Error(err))
		e.post(func() { done(outcome{value: v, err: err}) })
	})
	if err != nil {
		cancel()
		done(outcome{err: fmt.Errorf("%w: %w", ErrEngineClosed, err)})
		return nil
	}
	return cancel
}

func (e *Engine) invokeCall(ctx context.Context, call Call) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &CallError{Name: call.Name, Err: &PanicError{Value: r}}
		}
	}()
	v, err = e.opts.callHandler(ctx, call)
	if err != nil {
		var ce *CallError
		if !errors.As(err, &ce) {
			err = &CallError{Name: call.Name, Err: err}
		}
		return nil, err
	}
	return v, nil
}

func (e *Engine) runFork(parent *Task, wf Workflow, args []any, name string, detached bool, done func(outcome)) {
	if wf == nil {
		done(outcome{err: ErrNilWorkflow})
		return
	}

	child := newTask(e, parent, wf, args, name)
	e.live[child.id] = child
	if detached {
		parent.detached = append(parent.detached, child)
	} else {
		parent.children = append(parent.children, child)
	}
	child.logger.Debug("task started", zap.Bool("detached", detached), zap.Stringer("parent", parent))

	go child.main()
	e.drive(child, outcome{})

	if e.stopping || (!detached && parent.cancelRequested) {
		e.cancelTask(child)
	}
	done(outcome{value: child})
}

// runRace starts the alternatives in declaration order. One settling while
// they are being started wins at once. Later settlements are collected until
// the end of the loop turn and the earliest declared one wins.
func (e *Engine) runRace(t *Task, race Race, done func(outcome)) func() {
	if len(race.Alternatives) == 0 {
		done(outcome{err: ErrEmptyRace})
		return nil
	}

	var (
		starting = true
		finished bool
		winner   = -1
		result   outcome
		cancels  = make([]func(), 0, len(race.Alternatives))
	)
	cancelAll := func() {
		for _, c := range cancels {
			c()
		}
	}
	resolve := func() {
		if finished || winner < 0 {
			return
		}
		finished = true
		cancelAll()
		if result.err != nil {
			done(result)
			return
		}
		done(outcome{value: RaceResult{Label: race.Alternatives[winner].Label, Value: result.value}})
	}

	for i, alt := range race.Alternatives {
		c := e.runEffect(t, alt.Effect, func(o outcome) {
			if finished || (winner >= 0 && winner < i) {
				return
			}
			first := winner < 0
			winner, result = i, o
			if !starting && first {
				e.atTurnEnd(resolve)
			}
		})
		cancels = append(cancels, c)
		if winner >= 0 {
			break
		}
	}
	starting = false
	resolve()

	return func() {
		finished = true
		cancelAll()
	}
}

// runAll starts every effect in input order. Failures settling in the same
// loop turn are reported by declaration order; the first turn with a failure
// cancels the remaining effects.
func (e *Engine) runAll(t *Task, all All, done func(outcome)) func() {
	if len(all.Effects) == 0 {
		done(outcome{value: []any{}})
		return nil
	}

	var (
		starting  = true
		finished  bool
		failed    = -1
		failure   outcome
		remaining = len(all.Effects)
		results   = make([]any, len(all.Effects))
		cancels   = make([]func(), 0, len(all.Effects))
	)
	cancelAll := func() {
		for _, c := range cancels {
			c()
		}
	}
	fail := func() {
		if finished || failed < 0 {
			return
		}
		finished = true
		cancelAll()
		done(failure)
	}

	for i, eff := range all.Effects {
		c := e.runEffect(t, eff, func(o outcome) {
			if finished {
				return
			}
			if o.err != nil {
				if failed >= 0 && failed < i {
					return
				}
				first := failed < 0
				failed, failure = i, o
				if !starting && first {
					e.atTurnEnd(fail)
				}
				return
			}
			results[i] = o.value
			remaining--
			if remaining == 0 {
				finished = true
				done(outcome{value: results})
			}
		})
		cancels = append(cancels, c)
		if failed >= 0 {
			break
		}
	}
	starting = false
	fail()

	return func() {
		finished = true
		cancelAll()
	}
}

func (e *Engine) runDelay(d Delay, done func(outcome)) func() {
	if d.Duration <= 0 {
		done(outcome{})
		return nil
	}
	tm := e.addTimer(d.Duration, func() { done(outcome{}) })
	return func() { e.removeTimer(tm) }
}

func (e *Engine) runSelect(sel Select) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: &PanicError{Value: r}}
		}
	}()
	state := e.opts.state()
	if sel.Selector == nil {
		return outcome{value: state}
	}
	return outcome{value: sel.Selector(state)}
}

func (e *Engine) runJoin(t *Task, join Join, done func(outcome)) func() {
	target := join.Task
	switch {
	case target == nil:
		done(outcome{err: fmt.Errorf("%w: join without task", ErrUnsupportedEffect)})
		return nil
	case target == t:
		done(outcome{err: fmt.Errorf("%w: task %s cannot join itself", ErrUnsupportedEffect, t)})
		return nil
	case target.final:
		if target.Status() == StatusCancelled {
			done(outcome{err: ErrTaskCancelled})
		} else {
			done(outcome{value: target.value, err: target.err})
		}
		return nil
	}

	j := &joiner{active: true, resume: func(v any, err error) {
		done(outcome{value: v, err: err})
	}}
	target.joiners = append(target.joiners, j)
	return func() { j.active = false }
}
