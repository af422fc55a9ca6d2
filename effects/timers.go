package effects

import (
	"container/heap"
	"time"
)

// timer is a Delay waiting on the engine's timer queue.
type timer struct {
	at    time.Time
	seq   uint64
	fire  func()
	index int
}

// timerQueue orders timers by deadline, then by creation.
type timerQueue []*timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	tm := x.(*timer)
	tm.index = len(*q)
	*q = append(*q, tm)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	tm := old[n-1]
	old[n-1] = nil
	tm.index = -1
	*q = old[:n-1]
	return tm
}

// addTimer schedules fire on the loop after d. Timers due in the same wakeup
// fire in deadline order, ties in creation order.
func (e *Engine) addTimer(d time.Duration, fire func()) *timer {
	e.timerSeq++
	tm := &timer{at: time.Now().Add(d), seq: e.timerSeq, fire: fire}
	heap.Push(&e.timers, tm)
	e.armTimers()
	return tm
}

func (e *Engine) removeTimer(tm *timer) {
	if tm.index < 0 {
		return
	}
	heap.Remove(&e.timers, tm.index)
	e.armTimers()
}

// armTimers points the wakeup at the earliest deadline.
func (e *Engine) armTimers() {
	if len(e.timers) == 0 {
		if e.armed {
			e.wake.Stop()
			e.armed = false
		}
		return
	}
	next := e.timers[0].at
	if e.armed && e.wakeAt.Equal(next) {
		return
	}
	d := time.Until(next)
	if e.wake == nil {
		e.wake = time.AfterFunc(d, func() { e.post(e.fireTimers) })
	} else {
		e.wake.Reset(d)
	}
	e.wakeAt, e.armed = next, true
}

func (e *Engine) fireTimers() {
	e.armed = false
	now := time.Now()
	for len(e.timers) > 0 && !e.timers[0].at.After(now) {
		tm := heap.Pop(&e.timers).(*timer)
		tm.fire()
	}
	e.armTimers()
}

func (e *Engine) stopTimers() {
	if e.wake != nil {
		e.wake.Stop()
	}
	e.armed = false
}
