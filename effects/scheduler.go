package effects

import (
	"slices"
	"time"

	"go.uber.org/zap"
)

// drive resumes t with out and keeps serving its effects until one of them
// suspends or the workflow returns. Runs on the loop goroutine.
func (e *Engine) drive(t *Task, out outcome) {
	for !t.mainDone {
		t.seq++
		t.pending = nil
		if t.cancelRequested && !t.signalled {
			t.signalled = true
			out = outcome{err: ErrCancelled}
		}

		t.running = true
		t.setStatus(StatusRunning)
		t.resumeCh <- out
		y := <-t.yieldCh
		if y.done {
			t.running = false
			e.mainReturned(t, y.out)
			return
		}

		if t.signalled && !allowedWhileCancelling(y.effect) {
			t.logger.Debug("effect rejected after cancellation", zap.Stringer("effect", kindOf(y.effect)))
			out = outcome{rejected: true}
			continue
		}

		var (
			inRun   = true
			settled bool
			result  outcome
			seq     = t.seq
		)
		cancel := e.runEffect(t, y.effect, func(o outcome) {
			if inRun {
				settled, result = true, o
				return
			}
			e.enqueue(t, seq, o)
		})
		inRun = false

		if settled {
			out = result
			continue
		}
		t.running = false
		t.pending = cancel
		t.setStatus(StatusSuspended)
		return
	}
}

// cancelTask requests cancellation of t and, depth first, of its owned
// children. A suspended task has its pending effect cancelled and is resumed
// with ErrCancelled right away; a running one sees it at its next effect.
func (e *Engine) cancelTask(t *Task) {
	if t.final || t.cancelRequested {
		return
	}
	t.cancelRequested = true
	t.logger.Debug("cancelling task")

	for _, child := range slices.Clone(t.children) {
		e.cancelTask(child)
	}

	switch {
	case t.running:
	case t.mainDone:
		e.tryFinalize(t)
	default:
		if pending := t.pending; pending != nil {
			t.pending = nil
			pending()
		}
		e.drive(t, outcome{})
	}
}

func (e *Engine) mainReturned(t *Task, out outcome) {
	t.mainDone = true
	// Waiting for children, if any.
	t.setStatus(StatusSuspended)
	t.pending = nil
	t.value, t.err = out.value, out.err
	if t.cancelRequested {
		t.value, t.err = nil, ErrCancelled
	}
	if t.err != nil {
		for _, child := range slices.Clone(t.children) {
			e.cancelTask(child)
		}
	}
	e.tryFinalize(t)
}

// tryFinalize settles t once its workflow has returned and every owned child
// is terminal.
func (e *Engine) tryFinalize(t *Task) {
	if t.final || !t.mainDone || len(t.children) > 0 {
		return
	}
	t.final = true
	t.finishedAt = time.Now()

	status := StatusDone
	switch {
	case t.cancelRequested:
		status = StatusCancelled
	case t.err != nil:
		status = StatusFailed
	}
	t.setStatus(status)
	close(t.done)

	elapsed := zap.Duration("duration", t.finishedAt.Sub(t.startedAt))
	switch status {
	case StatusFailed:
		t.logger.Error("task failed", zap.Error(t.err), elapsed)
	default:
		t.logger.Debug("task finished", zap.Stringer("status", status), elapsed)
	}

	joiners := t.joiners
	t.joiners = nil
	for _, j := range joiners {
		if !j.active {
			continue
		}
		j.active = false
		if status == StatusCancelled {
			j.resume(nil, ErrTaskCancelled)
		} else {
			j.resume(t.value, t.err)
		}
	}

	delete(e.live, t.id)
	if p := t.parent; p != nil {
		p.children = slices.DeleteFunc(p.children, func(c *Task) bool { return c == t })
		p.detached = slices.DeleteFunc(p.detached, func(c *Task) bool { return c == t })
		e.tryFinalize(p)
	}
	e.checkDrained()
}

func kindOf(eff Effect) Kind {
	if eff == nil {
		return 0
	}
	return eff.Kind()
}
